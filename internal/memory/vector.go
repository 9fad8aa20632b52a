package memory

import (
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/irun2themoney/autoppia-miner/api/schemas"
	"github.com/irun2themoney/autoppia-miner/internal/config"
	"github.com/irun2themoney/autoppia-miner/internal/governor"
	"github.com/irun2themoney/autoppia-miner/internal/taskparse"
)

const (
	urlSubstringBonus = 0.1
	taskTypeBonus     = 0.1
)

// Record is one remembered sequence.
type Record struct {
	Prompt      string             `json:"prompt"`
	URL         string             `json:"url"`
	Actions     []schemas.Action   `json:"actions"`
	SuccessRate float64            `json:"success_rate"`
	Outcomes    int                `json:"outcomes"`
	TaskType    schemas.TaskType   `json:"task_type"`
	Task        schemas.ParsedTask `json:"task"`
	Timestamp   time.Time          `json:"timestamp"`
}

// Recall is a similarity match against a record.
type Recall struct {
	Record     Record
	Similarity float64
	Decision   governor.Decision
}

// VectorMemory is a bounded, append-mostly store recalled by TF-IDF cosine
// similarity, or keyword Jaccard when TF-IDF is off.
type VectorMemory struct {
	logger *zap.Logger
	cfg    config.MemoryConfig
	gate   Gate

	mu      sync.RWMutex
	records []Record
}

func NewVectorMemory(logger *zap.Logger, cfg config.MemoryConfig, gate Gate) *VectorMemory {
	if cfg.Capacity <= 0 {
		cfg.Capacity = 1000
	}
	if cfg.TopK <= 0 {
		cfg.TopK = 5
	}
	return &VectorMemory{
		logger: logger.Named("vector_memory"),
		cfg:    cfg,
		gate:   gate,
	}
}

func document(prompt, rawURL string) string {
	return prompt + " " + rawURL
}

// Add appends a record, dropping the oldest beyond capacity.
func (m *VectorMemory) Add(rec Record) {
	if !m.cfg.Enabled || len(rec.Actions) == 0 {
		return
	}
	rec.Actions = schemas.CloneActions(rec.Actions)
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	if over := len(m.records) - m.cfg.Capacity; over > 0 {
		m.records = append(m.records[:0:0], m.records[over:]...)
	}
}

// UpdateOutcome folds a validated result into every record for (prompt, url).
func (m *VectorMemory) UpdateOutcome(prompt, rawURL string, success bool) int {
	v := 0.0
	if success {
		v = 1.0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for i := range m.records {
		r := &m.records[i]
		if r.Prompt != prompt || r.URL != rawURL {
			continue
		}
		r.SuccessRate = (r.SuccessRate*float64(r.Outcomes+1) + v) / float64(r.Outcomes+2)
		r.Outcomes++
		n++
	}
	return n
}

func (m *VectorMemory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

// Search returns up to top-k records above the similarity floor, best first.
func (m *VectorMemory) Search(prompt, rawURL string, taskType schemas.TaskType) []Recall {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.records) == 0 {
		return nil
	}

	var scores []float64
	floor := m.cfg.JaccardFloor
	if m.cfg.UseTFIDF {
		scores = m.tfidfScoresLocked(document(prompt, rawURL))
		floor = m.cfg.TFIDFFloor
	} else {
		scores = m.jaccardScoresLocked(prompt, rawURL, taskType)
	}

	var out []Recall
	for i, s := range scores {
		if s >= floor {
			rec := m.records[i]
			rec.Actions = schemas.CloneActions(rec.Actions)
			out = append(out, Recall{Record: rec, Similarity: s})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Similarity > out[j].Similarity })
	if len(out) > m.cfg.TopK {
		out = out[:m.cfg.TopK]
	}
	return out
}

// Best returns the top recall if its success rate is high enough and the
// gate approves it.
func (m *VectorMemory) Best(prompt, rawURL string, taskType schemas.TaskType) (Recall, bool) {
	if !m.cfg.Enabled {
		return Recall{}, false
	}
	matches := m.Search(prompt, rawURL, taskType)
	if len(matches) == 0 {
		return Recall{}, false
	}
	best := matches[0]
	if best.Record.SuccessRate < m.cfg.MinSuccessRate {
		return Recall{}, false
	}
	if m.gate != nil {
		best.Decision = m.gate.Check(taskparse.PatternKey(best.Record.Prompt, best.Record.URL), best.Similarity)
		if !best.Decision.Allow {
			m.logger.Debug("Memory recall vetoed", zap.String("reason", string(best.Decision.Reason)))
			return Recall{Decision: best.Decision}, false
		}
	} else {
		best.Decision = governor.Decision{Allow: true, Adjusted: best.Similarity, Reason: governor.ReasonDisabled}
	}
	return best, true
}

func (m *VectorMemory) tfidfScoresLocked(query string) []float64 {
	docs := make([]map[string]float64, len(m.records))
	df := map[string]int{}
	for i, r := range m.records {
		docs[i] = termFrequencies(document(r.Prompt, r.URL))
		for t := range docs[i] {
			df[t]++
		}
	}
	q := termFrequencies(query)
	n := float64(len(m.records) + 1)
	idf := func(t string) float64 {
		return math.Log(n/float64(df[t]+1)) + 1
	}

	qv := weigh(q, idf)
	scores := make([]float64, len(docs))
	for i, d := range docs {
		scores[i] = cosine(qv, weigh(d, idf))
	}
	return scores
}

func (m *VectorMemory) jaccardScoresLocked(prompt, rawURL string, taskType schemas.TaskType) []float64 {
	q := taskparse.KeywordSet(prompt)
	domain := taskparse.Domain(rawURL)
	scores := make([]float64, len(m.records))
	for i, r := range m.records {
		s := taskparse.Jaccard(q, taskparse.KeywordSet(r.Prompt))
		if domain != "" && strings.Contains(strings.ToLower(r.URL), domain) {
			s += urlSubstringBonus
		}
		if taskType != "" && r.TaskType == taskType {
			s += taskTypeBonus
		}
		scores[i] = math.Min(1.0, s)
	}
	return scores
}

func termFrequencies(text string) map[string]float64 {
	tf := map[string]float64{}
	tokens := taskparse.Tokens(text)
	for _, t := range tokens {
		tf[t]++
	}
	for t := range tf {
		tf[t] /= float64(len(tokens))
	}
	return tf
}

func weigh(tf map[string]float64, idf func(string) float64) map[string]float64 {
	out := make(map[string]float64, len(tf))
	for t, f := range tf {
		out[t] = f * idf(t)
	}
	return out
}

func cosine(a, b map[string]float64) float64 {
	var dot, na, nb float64
	for t, x := range a {
		na += x * x
		if y, ok := b[t]; ok {
			dot += x * y
		}
	}
	for _, y := range b {
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// Snapshot copies all records, e.g. for persistence.
func (m *VectorMemory) Snapshot() []Record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Record, len(m.records))
	for i, r := range m.records {
		r.Actions = schemas.CloneActions(r.Actions)
		out[i] = r
	}
	return out
}

// Restore replaces all records, keeping the newest up to capacity.
func (m *VectorMemory) Restore(records []Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if over := len(records) - m.cfg.Capacity; over > 0 {
		records = records[over:]
	}
	m.records = append([]Record(nil), records...)
}
