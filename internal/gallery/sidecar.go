package gallery

import (
	"context"
	"fmt"
	"strings"

	"gopkg.in/yaml.v2"

	"github.com/s3gallery/s3gallery/pkg/errors"
	"github.com/s3gallery/s3gallery/pkg/utils"
)

// DefaultSidecarName is the per-node metadata object.
const DefaultSidecarName = "album.yaml"

// ParseSidecar decodes sidecar YAML.
func ParseSidecar(data []byte) (Metadata, error) {
	var md Metadata
	if err := yaml.Unmarshal(data, &md); err != nil {
		return Metadata{}, err
	}
	md.Title = strings.TrimSpace(md.Title)
	md.Description = strings.TrimSpace(md.Description)
	md.Thumbnail = strings.TrimSpace(md.Thumbnail)
	return md, nil
}

// loadSidecar reads the sidecar of nodePath. A missing sidecar yields
// defaults and no error; an unreadable or malformed one yields defaults
// and a METADATA_INVALID error.
func (b *Builder) loadSidecar(ctx context.Context, nodePath string) (Metadata, error) {
	if b.cfg.SidecarName == "" {
		return Metadata{}, nil
	}
	key := utils.JoinKey(nodePath, b.cfg.SidecarName)

	var data []byte
	err := b.retryer.Do(ctx, func(ctx context.Context) error {
		obj, err := b.source.Get(ctx, key)
		if err != nil {
			return err
		}
		data = obj.Data
		return nil
	})
	if errors.IsNotFound(err) {
		return Metadata{}, nil
	}
	if err != nil {
		return Metadata{}, errors.Wrap(errors.ErrCodeMetadataInvalid, "read sidecar "+key, err).
			WithComponent("gallery").
			WithContext("key", key)
	}

	md, err := ParseSidecar(data)
	if err != nil {
		return Metadata{}, errors.Wrap(errors.ErrCodeMetadataInvalid, fmt.Sprintf("parse sidecar %s", key), err).
			WithComponent("gallery").
			WithContext("key", key)
	}
	return md, nil
}

// resolveOverride turns a sidecar thumbnail into a derivative key. A
// leading slash anchors the source key at the namespace root, anything
// else is relative to the node.
func resolveOverride(nodePath, override string) string {
	if override == "" {
		return ""
	}
	if strings.HasPrefix(override, "/") {
		return utils.ThumbKey(utils.JoinKey(override))
	}
	return utils.ThumbKey(utils.JoinKey(nodePath, override))
}
