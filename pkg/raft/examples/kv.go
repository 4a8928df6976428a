package examples

import (
	"encoding/json"
	"sync"

	"github.com/cuemby/raftsim/pkg/raft"
)

// KVOp is the wire form of a KVMachine command.
type KVOp struct {
	Kind  string `json:"kind"` // "put" or "delete"
	Key   string `json:"key"`
	Value []byte `json:"value,omitempty"`
}

// KVMachine is a replicated string-keyed byte-value map, the stock demo
// workload for exercising submission, snapshotting, and restore end to
// end.
type KVMachine struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewKVMachine() *KVMachine {
	return &KVMachine{data: make(map[string][]byte)}
}

func (k *KVMachine) Apply(command []byte, index raft.Index) ([]byte, error) {
	var op KVOp
	if err := json.Unmarshal(command, &op); err != nil {
		return nil, err
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	switch op.Kind {
	case "put":
		k.data[op.Key] = op.Value
		return nil, nil
	case "delete":
		delete(k.data, op.Key)
		return nil, nil
	default:
		return nil, ErrMalformedCommand
	}
}

// Get reads the current value for key. It is not linearizable on its own;
// callers needing a linearizable read should route through a no-op
// SubmitCommand (a read-index barrier) first.
func (k *KVMachine) Get(key string) ([]byte, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	v, ok := k.data[key]
	return v, ok
}

func (k *KVMachine) Snapshot() ([]byte, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return json.Marshal(k.data)
}

func (k *KVMachine) Restore(state []byte, lastIncludedIndex raft.Index) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	data := make(map[string][]byte)
	if len(state) > 0 {
		if err := json.Unmarshal(state, &data); err != nil {
			return err
		}
	}
	k.data = data
	return nil
}

// EncodePut builds the command payload for setting key to value.
func EncodePut(key string, value []byte) []byte {
	data, _ := json.Marshal(KVOp{Kind: "put", Key: key, Value: value})
	return data
}

// EncodeDelete builds the command payload for removing key.
func EncodeDelete(key string) []byte {
	data, _ := json.Marshal(KVOp{Kind: "delete", Key: key})
	return data
}

var _ raft.StateMachine = (*KVMachine)(nil)
