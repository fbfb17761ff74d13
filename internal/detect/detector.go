package detect

import (
	"sync"

	"mt_copier/internal/ledger"
	"mt_copier/internal/models"
)

// Result - результат сравнения снимков
type Result struct {
	HasChanges bool     `json:"has_changes"`
	Added      []string `json:"added"`
	Removed    []string `json:"removed"`
	Modified   []string `json:"modified"`
}

// Detector хранит один предыдущий снимок на ключ и сообщает,
// изменились ли ордера. Обновление только counter'а изменением не считается.
type Detector struct {
	mu       sync.Mutex
	previous map[string]map[string]models.OrderRecord
}

// New создает детектор с пустым кэшем
func New() *Detector {
	return &Detector{previous: make(map[string]map[string]models.OrderRecord)}
}

// Detect разбирает текст снимка и сравнивает с предыдущим для accountID
func (d *Detector) Detect(accountID, text string) Result {
	snapshot, _ := ledger.ParseSnapshot(text)
	return d.DetectSnapshot(accountID, snapshot)
}

// DetectSnapshot сравнивает снимок с предыдущим и всегда заменяет кэш.
// Первый вызов для ключа считается изменением: получатель ещё ничего не видел.
func (d *Detector) DetectSnapshot(accountID string, snapshot models.OrderSnapshot) Result {
	current := make(map[string]models.OrderRecord, len(snapshot.Orders))
	for _, o := range snapshot.Orders {
		current[o.OrderID] = o
	}

	d.mu.Lock()
	prev, seen := d.previous[accountID]
	d.previous[accountID] = current
	d.mu.Unlock()

	res := Result{
		Added:    []string{},
		Removed:  []string{},
		Modified: []string{},
	}

	for _, o := range snapshot.Orders {
		old, ok := prev[o.OrderID]
		switch {
		case !ok:
			res.Added = append(res.Added, o.OrderID)
		case !old.SameContent(o):
			res.Modified = append(res.Modified, o.OrderID)
		}
	}

	for id := range prev {
		if _, ok := current[id]; !ok {
			res.Removed = append(res.Removed, id)
		}
	}

	res.HasChanges = !seen || len(res.Added)+len(res.Removed)+len(res.Modified) > 0

	return res
}

// Reset забывает предыдущий снимок, следующий Detect вернёт полный набор изменений
func (d *Detector) Reset(accountID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.previous, accountID)
}
