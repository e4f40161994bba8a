package nn

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Checkpoint is a flat snapshot of every named parameter and buffer,
// keyed by epoch and a tag ("best" or "regular").
type Checkpoint struct {
	Net    string                   `json:"net"`
	Epoch  int                      `json:"epoch"`
	Tag    string                   `json:"tag"`
	Params map[string]EncodedTensor `json:"params"`
}

// EncodedTensor stores a float32 tensor as base64-encoded little-endian
// bytes.
type EncodedTensor struct {
	Format string `json:"fmt"`
	Len    int    `json:"len"`
	Data   string `json:"data"`
}

const tensorFormat = "f32le"

// encodeTensor packs a float32 slice into an EncodedTensor.
func encodeTensor(v []float32) EncodedTensor {
	buf := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(x))
	}
	return EncodedTensor{
		Format: tensorFormat,
		Len:    len(v),
		Data:   base64.StdEncoding.EncodeToString(buf),
	}
}

// decodeTensor unpacks an EncodedTensor into dst.
func decodeTensor(t EncodedTensor, dst []float32) error {
	if t.Format != tensorFormat {
		return fmt.Errorf("unsupported tensor format %q", t.Format)
	}
	if t.Len != len(dst) {
		return fmt.Errorf("tensor length %d does not match parameter length %d", t.Len, len(dst))
	}
	buf, err := base64.StdEncoding.DecodeString(t.Data)
	if err != nil {
		return fmt.Errorf("decode tensor payload: %w", err)
	}
	if len(buf) != 4*t.Len {
		return fmt.Errorf("tensor payload is %d bytes, expected %d", len(buf), 4*t.Len)
	}
	for i := range dst {
		dst[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return nil
}

// CheckpointStore persists parameter snapshots under a directory, one JSON
// file per snapshot named <net>-<epoch>-<tag>.json.
type CheckpointStore struct {
	Dir string
	Net string
}

// NewCheckpointStore creates a store rooted at dir for the given network
// name.
func NewCheckpointStore(dir, net string) *CheckpointStore {
	return &CheckpointStore{Dir: dir, Net: net}
}

func (s *CheckpointStore) fileName(epoch int, tag string) string {
	return fmt.Sprintf("%s-%d-%s.json", s.Net, epoch, tag)
}

// Save writes a snapshot of params and returns the file path.
func (s *CheckpointStore) Save(params []NamedParameter, epoch int, tag string) (string, error) {
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return "", fmt.Errorf("create checkpoint directory: %w", err)
	}

	ckpt := Checkpoint{
		Net:    s.Net,
		Epoch:  epoch,
		Tag:    tag,
		Params: make(map[string]EncodedTensor, len(params)),
	}
	for _, p := range params {
		ckpt.Params[p.Name] = encodeTensor(p.Value)
	}

	payload, err := json.Marshal(&ckpt)
	if err != nil {
		return "", fmt.Errorf("marshal checkpoint: %w", err)
	}

	path := filepath.Join(s.Dir, s.fileName(epoch, tag))
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		return "", fmt.Errorf("write checkpoint %s: %w", path, err)
	}
	return path, nil
}

// LoadInto restores a snapshot file into the given parameters, matched by
// name. Every parameter must be present with a matching length.
func (s *CheckpointStore) LoadInto(path string, params []NamedParameter) error {
	payload, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read checkpoint %s: %w", path, err)
	}

	var ckpt Checkpoint
	if err := json.Unmarshal(payload, &ckpt); err != nil {
		return fmt.Errorf("unmarshal checkpoint %s: %w", path, err)
	}

	for _, p := range params {
		t, ok := ckpt.Params[p.Name]
		if !ok {
			return fmt.Errorf("checkpoint %s is missing parameter %q", path, p.Name)
		}
		if err := decodeTensor(t, p.Value); err != nil {
			return fmt.Errorf("parameter %q: %w", p.Name, err)
		}
	}
	return nil
}

// Latest returns the snapshot with the highest epoch regardless of tag.
// A store with no snapshots yields a descriptive error; resuming from it is
// fatal to the caller.
func (s *CheckpointStore) Latest() (string, int, error) {
	return s.scan("")
}

// LatestBest returns the best-tagged snapshot with the highest epoch.
func (s *CheckpointStore) LatestBest() (string, int, error) {
	return s.scan("best")
}

func (s *CheckpointStore) scan(tag string) (string, int, error) {
	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return "", 0, fmt.Errorf("no recent weights found in %s", s.Dir)
		}
		return "", 0, fmt.Errorf("scan checkpoint directory: %w", err)
	}

	bestEpoch := -1
	bestName := ""
	prefix := s.Net + "-"
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ".json") {
			continue
		}
		rest := strings.TrimSuffix(strings.TrimPrefix(name, prefix), ".json")
		dash := strings.LastIndex(rest, "-")
		if dash < 0 {
			continue
		}
		epoch, err := strconv.Atoi(rest[:dash])
		if err != nil {
			continue
		}
		fileTag := rest[dash+1:]
		if tag != "" && fileTag != tag {
			continue
		}
		if epoch > bestEpoch {
			bestEpoch = epoch
			bestName = name
		}
	}

	if bestEpoch < 0 {
		return "", 0, fmt.Errorf("no recent weights found in %s", s.Dir)
	}
	return filepath.Join(s.Dir, bestName), bestEpoch, nil
}
