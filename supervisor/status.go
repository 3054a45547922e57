package supervisor

import (
	"context"

	"github.com/LilithWittmann/elasticsearch-river-mongodb/sink"
)

// statusID is the well-known document id holding a river's enable flag,
// stored alongside its checkpoint record under the same index/type.
const statusID = "_status"

// enabledField is the boolean toggled by an operator to turn a river's
// pipeline on or off.
const enabledField = "enabled"

// readEnabled reads the current enable flag for a river. An absent
// status record is treated as disabled, so a freshly created river
// stays idle until an operator explicitly flips it on.
func readEnabled(ctx context.Context, client sink.Client, riverIndex, riverName string) (bool, error) {
	doc, found, err := client.GetDocument(ctx, riverIndex, riverName, statusID)
	if err != nil || !found {
		return false, err
	}
	enabled, _ := doc[enabledField].(bool)
	return enabled, nil
}
