package models

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// ValidationError - некорректные входные данные (ордер, запрос)
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

// NewValidationError создает ошибку валидации
func NewValidationError(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// OrderRecord - открытый ордер из ledger файла
type OrderRecord struct {
	OrderID        string    `json:"order_id"`
	Symbol         string    `json:"symbol"`
	Type           string    `json:"type"`
	Lot            float64   `json:"lot"`
	Price          float64   `json:"price"`
	StopLoss       float64   `json:"stop_loss"`
	TakeProfit     float64   `json:"take_profit"`
	Timestamp      time.Time `json:"timestamp"`
	OwnerAccountID string    `json:"owner_account_id"`
	Comment        string    `json:"comment,omitempty"`
}

// NewOrderRecord проверяет поля и создает ордер.
// Все проверки делаются здесь, чтобы pipeline работал только с валидными ордерами.
func NewOrderRecord(o OrderRecord) (OrderRecord, error) {
	o.OrderID = strings.TrimSpace(o.OrderID)
	o.Symbol = strings.TrimSpace(o.Symbol)
	o.Type = strings.TrimSpace(o.Type)
	o.OwnerAccountID = strings.TrimSpace(o.OwnerAccountID)

	switch {
	case o.OrderID == "":
		return OrderRecord{}, NewValidationError("order_id", "is required")
	case o.Symbol == "":
		return OrderRecord{}, NewValidationError("symbol", "is required")
	case o.Type == "":
		return OrderRecord{}, NewValidationError("type", "is required")
	case strings.ContainsAny(o.OrderID+o.Symbol+o.Type+o.OwnerAccountID+o.Comment, ",[]\n\r"):
		return OrderRecord{}, NewValidationError("", "fields must not contain separators")
	}

	for name, v := range map[string]float64{"lot": o.Lot, "price": o.Price, "sl": o.StopLoss, "tp": o.TakeProfit} {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return OrderRecord{}, NewValidationError(name, "invalid value %v", v)
		}
	}

	if o.Lot == 0 {
		return OrderRecord{}, NewValidationError("lot", "must be positive")
	}

	return o, nil
}

// OrderFieldCount - количество обязательных полей в строке ордера
const OrderFieldCount = 9

// ParseOrderFields собирает ордер из полей строки
// [orderId,symbol,type,lot,price,sl,tp,timestamp,owner(,comment)]
func ParseOrderFields(fields []string) (OrderRecord, error) {
	if len(fields) != OrderFieldCount && len(fields) != OrderFieldCount+1 {
		return OrderRecord{}, NewValidationError("", "expected %d fields, got %d", OrderFieldCount, len(fields))
	}

	nums := make([]float64, 4)
	for i, name := range []string{"lot", "price", "sl", "tp"} {
		v, err := strconv.ParseFloat(strings.TrimSpace(fields[3+i]), 64)
		if err != nil {
			return OrderRecord{}, NewValidationError(name, "not a number: %q", fields[3+i])
		}
		nums[i] = v
	}

	ts, err := strconv.ParseInt(strings.TrimSpace(fields[7]), 10, 64)
	if err != nil {
		return OrderRecord{}, NewValidationError("timestamp", "not a unix timestamp: %q", fields[7])
	}

	o := OrderRecord{
		OrderID:        fields[0],
		Symbol:         fields[1],
		Type:           fields[2],
		Lot:            nums[0],
		Price:          nums[1],
		StopLoss:       nums[2],
		TakeProfit:     nums[3],
		Timestamp:      time.Unix(ts, 0).UTC(),
		OwnerAccountID: fields[8],
	}
	if len(fields) > OrderFieldCount {
		o.Comment = fields[9]
	}

	return NewOrderRecord(o)
}

// FormatLot пишет лот минимум с двумя знаками, точность сверх этого не теряется
func FormatLot(lot float64) string {
	s := strconv.FormatFloat(lot, 'f', -1, 64)
	if i := strings.IndexByte(s, '.'); i < 0 || len(s)-i-1 < 2 {
		return strconv.FormatFloat(lot, 'f', 2, 64)
	}
	return s
}

// Fields возвращает поля ордера в формате строки ledger файла
func (o OrderRecord) Fields() []string {
	fields := []string{
		o.OrderID,
		o.Symbol,
		o.Type,
		FormatLot(o.Lot),
		strconv.FormatFloat(o.Price, 'f', -1, 64),
		strconv.FormatFloat(o.StopLoss, 'f', -1, 64),
		strconv.FormatFloat(o.TakeProfit, 'f', -1, 64),
		strconv.FormatInt(o.Timestamp.Unix(), 10),
		o.OwnerAccountID,
	}
	if o.Comment != "" {
		fields = append(fields, o.Comment)
	}
	return fields
}

// SameContent сравнивает ордера без учёта timestamp
func (o OrderRecord) SameContent(other OrderRecord) bool {
	o.Timestamp = time.Time{}
	other.Timestamp = time.Time{}
	return o == other
}

// OrderSnapshot - снимок открытых ордеров аккаунта.
// Counter - непрозрачный heartbeat, сохраняется при трансформации, но не участвует в diff.
type OrderSnapshot struct {
	Counter string        `json:"counter"`
	Orders  []OrderRecord `json:"orders"`
}

// IDs возвращает id ордеров в порядке снимка
func (s OrderSnapshot) IDs() []string {
	ids := make([]string, 0, len(s.Orders))
	for _, o := range s.Orders {
		ids = append(ids, o.OrderID)
	}
	return ids
}
