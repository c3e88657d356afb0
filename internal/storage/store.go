package storage

import (
	"encoding/csv"
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"gorgonia.org/tensor"

	"github.com/san-kum/diffpole/internal/dynamo"
	"github.com/san-kum/diffpole/internal/policy"
)

const (
	metadataFile = "metadata.json"
	paramsFile   = "params.gob"
	historyFile  = "history.csv"
)

var historyHeader = []string{"iteration", "steps", "blocks", "loss", "effort", "terminal", "duration_ms"}

// Store keeps one directory per policy handle under baseDir.
type Store struct {
	baseDir string
}

func New(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

func (s *Store) Init() error {
	return os.MkdirAll(s.baseDir, 0755)
}

type Metadata struct {
	Handle     string    `json:"handle"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
	Sizes      []int     `json:"sizes"`
	NumParams  int       `json:"num_params"`
	Iterations int       `json:"iterations"`
	LastSteps  int       `json:"last_steps"`
	BestSteps  int       `json:"best_steps"`
	LastLoss   float64   `json:"last_loss"`
}

type storedParam struct {
	Name  string
	Shape []int
	Data  []float64
}

func (s *Store) dir(handle string) string {
	return filepath.Join(s.baseDir, handle)
}

func checkHandle(op, handle string) error {
	if handle == "" || handle == "." || handle == ".." || strings.ContainsAny(handle, `/\`) {
		return &dynamo.PersistenceError{Op: op, Handle: handle, Err: errors.New("invalid handle")}
	}
	return nil
}

func wrap(op, handle string, err error) error {
	if err == nil {
		return nil
	}
	return &dynamo.PersistenceError{Op: op, Handle: handle, Err: err}
}

// Save writes the policy parameters under handle, replacing any previous
// save, and refreshes the handle's metadata.
func (s *Store) Save(handle string, p *policy.Policy) error {
	if err := checkHandle("save", handle); err != nil {
		return err
	}
	dir := s.dir(handle)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return wrap("save", handle, err)
	}

	params := p.Params()
	stored := make([]storedParam, len(params))
	for i, pr := range params {
		data := pr.Value.Data().([]float64)
		stored[i] = storedParam{
			Name:  pr.Name,
			Shape: append([]int(nil), pr.Value.Shape()...),
			Data:  append([]float64(nil), data...),
		}
	}
	err := writeAtomic(filepath.Join(dir, paramsFile), func(w io.Writer) error {
		return gob.NewEncoder(w).Encode(stored)
	})
	if err != nil {
		return wrap("save", handle, err)
	}

	return s.updateMetadata(handle, func(m *Metadata) {
		m.Sizes = append([]int(nil), policy.Sizes...)
		m.NumParams = p.NumParams()
	})
}

// Load restores the policy saved under handle.
func (s *Store) Load(handle string) (*policy.Policy, error) {
	if err := checkHandle("load", handle); err != nil {
		return nil, err
	}
	f, err := os.Open(filepath.Join(s.dir(handle), paramsFile))
	if err != nil {
		return nil, wrap("load", handle, err)
	}
	defer f.Close()

	var stored []storedParam
	if err := gob.NewDecoder(f).Decode(&stored); err != nil {
		return nil, wrap("load", handle, err)
	}
	params := make([]policy.Param, len(stored))
	for i, sp := range stored {
		shape := tensor.Shape(sp.Shape)
		if shape.TotalSize() != len(sp.Data) {
			return nil, wrap("load", handle, fmt.Errorf("parameter %s: %d values for shape %v", sp.Name, len(sp.Data), shape))
		}
		params[i] = policy.Param{
			Name:  sp.Name,
			Value: tensor.New(tensor.WithShape(sp.Shape...), tensor.WithBacking(sp.Data)),
		}
	}
	p, err := policy.FromParams(params)
	if err != nil {
		return nil, wrap("load", handle, err)
	}
	return p, nil
}

func (s *Store) Exists(handle string) bool {
	if checkHandle("exists", handle) != nil {
		return false
	}
	_, err := os.Stat(filepath.Join(s.dir(handle), paramsFile))
	return err == nil
}

// Delete removes everything stored under handle.
func (s *Store) Delete(handle string) error {
	if err := checkHandle("delete", handle); err != nil {
		return err
	}
	dir := s.dir(handle)
	if _, err := os.Stat(dir); err != nil {
		return wrap("delete", handle, err)
	}
	return wrap("delete", handle, os.RemoveAll(dir))
}

func (s *Store) List() ([]Metadata, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []Metadata{}, nil
		}
		return nil, err
	}

	runs := make([]Metadata, 0)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		meta, err := s.Metadata(entry.Name())
		if err != nil {
			continue
		}
		runs = append(runs, *meta)
	}
	sort.Slice(runs, func(i, j int) bool {
		return runs[i].UpdatedAt.After(runs[j].UpdatedAt)
	})
	return runs, nil
}

func (s *Store) Metadata(handle string) (*Metadata, error) {
	if err := checkHandle("metadata", handle); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(s.dir(handle), metadataFile))
	if err != nil {
		return nil, wrap("metadata", handle, err)
	}
	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, wrap("metadata", handle, err)
	}
	return &meta, nil
}

func (s *Store) updateMetadata(handle string, fn func(*Metadata)) error {
	now := time.Now()
	meta, err := s.Metadata(handle)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return err
		}
		meta = &Metadata{Handle: handle, CreatedAt: now}
	}
	fn(meta)
	meta.UpdatedAt = now

	err = writeAtomic(filepath.Join(s.dir(handle), metadataFile), func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(meta)
	})
	return wrap("save", handle, err)
}

// AppendHistory adds one iteration to the handle's history.csv and folds it
// into the metadata summary.
func (s *Store) AppendHistory(handle string, rec dynamo.IterationRecord) error {
	if err := checkHandle("history", handle); err != nil {
		return err
	}
	dir := s.dir(handle)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return wrap("history", handle, err)
	}

	path := filepath.Join(dir, historyFile)
	_, statErr := os.Stat(path)
	fresh := os.IsNotExist(statErr)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return wrap("history", handle, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if fresh {
		if err := w.Write(historyHeader); err != nil {
			return wrap("history", handle, err)
		}
	}
	row := []string{
		strconv.Itoa(rec.Iteration),
		strconv.Itoa(rec.Steps),
		strconv.Itoa(rec.Blocks),
		strconv.FormatFloat(rec.Loss, 'g', -1, 64),
		strconv.FormatFloat(rec.Effort, 'g', -1, 64),
		strconv.FormatBool(rec.Terminal),
		strconv.FormatInt(rec.Duration.Milliseconds(), 10),
	}
	if err := w.Write(row); err != nil {
		return wrap("history", handle, err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return wrap("history", handle, err)
	}

	return s.updateMetadata(handle, func(m *Metadata) {
		m.Iterations = rec.Iteration
		m.LastSteps = rec.Steps
		m.LastLoss = rec.Loss
		if rec.Steps > m.BestSteps {
			m.BestSteps = rec.Steps
		}
	})
}

// LoadHistory reads every recorded iteration for handle, oldest first.
func (s *Store) LoadHistory(handle string) ([]dynamo.IterationRecord, error) {
	if err := checkHandle("history", handle); err != nil {
		return nil, err
	}
	file, err := os.Open(filepath.Join(s.dir(handle), historyFile))
	if err != nil {
		return nil, wrap("history", handle, err)
	}
	defer file.Close()

	r := csv.NewReader(file)
	r.FieldsPerRecord = len(historyHeader)
	records, err := r.ReadAll()
	if err != nil {
		return nil, wrap("history", handle, err)
	}
	if len(records) < 2 {
		return []dynamo.IterationRecord{}, nil
	}

	out := make([]dynamo.IterationRecord, 0, len(records)-1)
	for i, rec := range records[1:] {
		parsed, err := parseHistoryRow(rec)
		if err != nil {
			return nil, wrap("history", handle, fmt.Errorf("row %d: %w", i+2, err))
		}
		out = append(out, parsed)
	}
	return out, nil
}

func parseHistoryRow(rec []string) (dynamo.IterationRecord, error) {
	var out dynamo.IterationRecord
	var err error
	if out.Iteration, err = strconv.Atoi(rec[0]); err != nil {
		return out, err
	}
	if out.Steps, err = strconv.Atoi(rec[1]); err != nil {
		return out, err
	}
	if out.Blocks, err = strconv.Atoi(rec[2]); err != nil {
		return out, err
	}
	if out.Loss, err = strconv.ParseFloat(rec[3], 64); err != nil {
		return out, err
	}
	if out.Effort, err = strconv.ParseFloat(rec[4], 64); err != nil {
		return out, err
	}
	if out.Terminal, err = strconv.ParseBool(rec[5]); err != nil {
		return out, err
	}
	ms, err := strconv.ParseInt(rec[6], 10, 64)
	if err != nil {
		return out, err
	}
	out.Duration = time.Duration(ms) * time.Millisecond
	return out, nil
}

// writeAtomic writes through a temp file renamed over path.
func writeAtomic(path string, write func(io.Writer) error) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := write(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
