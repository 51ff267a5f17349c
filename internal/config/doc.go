/*
Package config loads the gallery builder configuration.

Sources are applied in order of increasing precedence:

 1. compiled-in defaults (NewDefault)
 2. a YAML file (LoadFromFile)
 3. S3GALLERY_* environment variables (LoadFromEnv), optionally seeded
    from a .env file (LoadDotEnv)

Load runs all three, derives the destination store from the source where
it is left unset, and validates the result.

# Example

	global:
	  log_level: INFO
	  log_format: json
	source:
	  backend: s3
	  bucket: photos.example.com
	  credentials_file: keys.json
	destination:
	  bucket: www.example.com
	thumbnail:
	  max_width: 150
	  max_height: 150
	  quality: 85
	  format: jpeg
	pipeline:
	  max_concurrency: 8
	  failure_policy: continue
	  run_timeout: 30m
	  circuit_breaker:
	    consecutive_failures: 5
	    open_timeout: 30s
	gallery:
	  title: Photos
	  image_prefix: IMG
	  discovery_depth: 2

When gallery.tree is set the node hierarchy is taken from it and the
source listing is only used to find images inside leaves:

	gallery:
	  tree:
	    - name: "2013"
	      kind: directory
	      children:
	        - {name: "05", kind: leaf}
	    - {name: "2014", kind: leaf}
*/
package config
