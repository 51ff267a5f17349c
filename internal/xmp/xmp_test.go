package xmp

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const packet = `<?xpacket begin="" id="W5M0MpCehiHzreSzNTczkc9d"?>
<x:xmpmeta xmlns:x="adobe:ns:meta/">
 <rdf:RDF xmlns:rdf="http://www.w3.org/1999/02/22-rdf-syntax-ns#">
  <rdf:Description rdf:about="" xmlns:dc="http://purl.org/dc/elements/1.1/">
   <dc:title>
    <rdf:Alt>
     <rdf:li xml:lang="x-default">Harbour</rdf:li>
    </rdf:Alt>
   </dc:title>
   <dc:description>
    <rdf:Alt>
     <rdf:li xml:lang="de">Hafen in der Dämmerung</rdf:li>
     <rdf:li xml:lang="x-default">Harbour at dusk</rdf:li>
    </rdf:Alt>
   </dc:description>
  </rdf:Description>
 </rdf:RDF>
</x:xmpmeta>
<?xpacket end="w"?>`

func TestParse_PrefersDefaultLanguage(t *testing.T) {
	md, err := Parse([]byte(packet))
	require.NoError(t, err)
	assert.Equal(t, "Harbour at dusk", md.Caption)
	assert.Equal(t, "Harbour", md.Title)
}

func TestParse_FirstEntryWithoutDefault(t *testing.T) {
	block := `<x:xmpmeta xmlns:x="adobe:ns:meta/">
 <rdf:RDF xmlns:rdf="http://www.w3.org/1999/02/22-rdf-syntax-ns#">
  <rdf:Description xmlns:dc="http://purl.org/dc/elements/1.1/">
   <dc:description><rdf:Alt>
    <rdf:li xml:lang="fr">Le port</rdf:li>
    <rdf:li xml:lang="en">The harbour</rdf:li>
   </rdf:Alt></dc:description>
  </rdf:Description>
 </rdf:RDF>
</x:xmpmeta>`

	md, err := Parse([]byte(block))
	require.NoError(t, err)
	assert.Equal(t, "Le port", md.Caption)
	assert.Empty(t, md.Title)
}

func TestParse_AttributeForm(t *testing.T) {
	block := `<x:xmpmeta xmlns:x="adobe:ns:meta/">
 <rdf:RDF xmlns:rdf="http://www.w3.org/1999/02/22-rdf-syntax-ns#">
  <rdf:Description xmlns:dc="http://purl.org/dc/elements/1.1/" dc:description="Quay"/>
 </rdf:RDF>
</x:xmpmeta>`

	md, err := Parse([]byte(block))
	require.NoError(t, err)
	assert.Equal(t, "Quay", md.Caption)
}

func TestParse_UndeclaredPrefixes(t *testing.T) {
	block := `<rdf:Description><dc:description><rdf:Alt><rdf:li xml:lang="x-default">Pier</rdf:li></rdf:Alt></dc:description></rdf:Description>`

	md, err := Parse([]byte(block))
	require.NoError(t, err)
	assert.Equal(t, "Pier", md.Caption)
}

func TestParse_NoCaption(t *testing.T) {
	emptyItem := `<rdf:Description xmlns:rdf="http://www.w3.org/1999/02/22-rdf-syntax-ns#" xmlns:dc="http://purl.org/dc/elements/1.1/">
<dc:description><rdf:Alt><rdf:li xml:lang="x-default">   </rdf:li></rdf:Alt></dc:description></rdf:Description>`

	tests := map[string]string{
		"empty":    "",
		"blank":    "  \n ",
		"no desc":  `<x:xmpmeta xmlns:x="adobe:ns:meta/"><rdf:RDF xmlns:rdf="http://www.w3.org/1999/02/22-rdf-syntax-ns#"/></x:xmpmeta>`,
		"empty li": emptyItem,
	}

	for name, block := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(block))
			if !errors.Is(err, ErrNoCaption) {
				t.Errorf("Parse() error = %v, want ErrNoCaption", err)
			}
		})
	}
}

func TestParse_Malformed(t *testing.T) {
	_, err := Parse([]byte(`<x:xmpmeta><rdf:RDF><dc:description>`))
	if !errors.Is(err, ErrMalformed) {
		t.Errorf("Parse() error = %v, want ErrMalformed", err)
	}
}
