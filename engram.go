// Package engram gives conversational agents bounded, durable working
// memory. Session history is persisted as sequence-numbered checkpoints,
// presented to the model through a recency window with a running
// summary, and compressed by threshold-triggered summarization; a
// retrieval index surfaces context that has scrolled out of the window.
//
// The root package loads YAML configuration and wires the checkpoint
// store, model provider, retrieval index, memory manager, and retention
// cleaner into one Runtime:
//
//	rt, err := engram.Open(ctx, "engram.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer rt.Close()
//
//	result, err := rt.Manager.Turn(ctx, sessionID, "hello")
package engram

import "context"

// Open loads a config file and assembles a runtime from it.
func Open(ctx context.Context, configPath string) (*Runtime, error) {
	loader := NewConfigLoader(&OSFileReader{})
	cfg, err := loader.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	return OpenWithConfig(ctx, cfg)
}
