/*
Package adapter wires configuration, stores, the asset pipeline, the
page renderer and the gallery builder into a single run.

# Run sequence

	┌──────────────────────────────┐
	│  health check source/dest    │
	└──────────────┬───────────────┘
	               │
	┌──────────────▼───────────────┐
	│  root spec                   │  declared tree or discovery
	└──────────────┬───────────────┘
	               │
	┌──────────────▼───────────────┐
	│  gallery.Builder.Build       │  leaves: list, pipeline, publish
	│                              │  directories: children, publish
	└──────────────┬───────────────┘
	               │
	┌──────────────▼───────────────┐
	│  publish gallery.css         │  always, even after failures
	└──────────────┬───────────────┘
	               │
	         RunResult

Discovery lists the source with a "/" delimiter. Every top-level common
prefix except "thumb/" becomes a root. With gallery.discovery_depth above
one, a prefix that has sub-prefixes becomes a directory of them; a
prefix without any is a leaf.

# Usage

	a, err := adapter.New(ctx, cfg, source, destination,
		adapter.WithMetrics(collector))
	if err != nil {
		return err
	}
	result, err := a.Run(ctx)
	if err != nil {
		return err // the run did not start
	}
	if !result.OK() {
		for _, f := range result.Failures {
			fmt.Println(f)
		}
	}

Each run gets a random run ID that is attached to every log line the run
emits.
*/
package adapter
