package transform

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"mt_copier/internal/models"
)

// ErrFiltered - ордер отфильтрован и не должен попасть к slave
var ErrFiltered = errors.New("order filtered")

// LotStep - минимальный шаг лота в терминале
const LotStep = 0.01

const lotsPerUnit = 100

// reverseTypes - таблица разворота типов ордеров (в обе стороны)
var reverseTypes = map[string]string{}

func init() {
	pairs := [][2]string{
		{"BUY", "SELL"},
		{"BUY STOP", "SELL LIMIT"},
		{"BUY LIMIT", "SELL STOP"},
		{"BUYSTOP", "SELLLIMIT"},
		{"BUYLIMIT", "SELLSTOP"},
		{"BUY_STOP", "SELL_LIMIT"},
		{"BUY_LIMIT", "SELL_STOP"},
	}

	for _, p := range pairs {
		reverseTypes[p[0]] = p[1]
		reverseTypes[p[1]] = p[0]
	}
}

// Stats - итог трансформации снимка
type Stats struct {
	Kept     int
	Filtered int
	Vetoed   bool // slave выключен, весь набор ордеров отброшен
}

// Apply применяет правила master и slave к ордеру.
// Ордер всегда берётся нетрансформированным из ledger master'а.
func Apply(order models.OrderRecord, master models.MasterConfig, slave models.SlaveConfig) (models.OrderRecord, error) {
	// 1. фильтр символов
	symbol := strings.ToUpper(strings.TrimSpace(order.Symbol))
	if len(slave.AllowedSymbols) > 0 && !contains(slave.AllowedSymbols, symbol) {
		return models.OrderRecord{}, fmt.Errorf("%w: symbol %s not allowed", ErrFiltered, order.Symbol)
	}
	if contains(slave.BlockedSymbols, symbol) {
		return models.OrderRecord{}, fmt.Errorf("%w: symbol %s blocked", ErrFiltered, order.Symbol)
	}

	// 2. фильтр типов ордеров
	orderType := strings.ToUpper(strings.TrimSpace(order.Type))
	if len(slave.AllowedOrderTypes) > 0 && !contains(slave.AllowedOrderTypes, orderType) {
		return models.OrderRecord{}, fmt.Errorf("%w: order type %s not allowed", ErrFiltered, order.Type)
	}
	if contains(slave.BlockedOrderTypes, orderType) {
		return models.OrderRecord{}, fmt.Errorf("%w: order type %s blocked", ErrFiltered, order.Type)
	}

	out := order

	// 3-4. лот: сначала master, потом slave поверх результата
	out.Lot = transformLot(out.Lot, master.ForceLot, master.LotMultiplier)
	out.Lot = transformLot(out.Lot, slave.ForceLot, slave.LotMultiplier)
	out.Lot = roundLot(out.Lot)

	// 5. ограничения лота, границы независимы; clamp последний меняет лот
	if slave.MinLotSize != nil && out.Lot < *slave.MinLotSize {
		out.Lot = *slave.MinLotSize
	}
	if slave.MaxLotSize != nil && out.Lot > *slave.MaxLotSize {
		out.Lot = *slave.MaxLotSize
	}

	// 6. разворот: master и slave применяются независимо, двойной разворот = без разворота
	if master.ReverseTrading {
		out = reverse(out)
	}
	if slave.ReverseTrading {
		out = reverse(out)
	}

	// 7. комментарий (только master)
	if master.CommentPrefix != "" || master.CommentSuffix != "" {
		out.Comment = master.CommentPrefix + out.Comment + master.CommentSuffix
	}

	return out, nil
}

// ApplySnapshot трансформирует снимок master'а для slave.
// Отфильтрованные ордера удаляются, counter сохраняется без изменений.
func ApplySnapshot(snapshot models.OrderSnapshot, master models.MasterConfig, slave models.SlaveConfig) (models.OrderSnapshot, Stats) {
	out := models.OrderSnapshot{Counter: snapshot.Counter, Orders: []models.OrderRecord{}}

	if !slave.Enabled {
		return out, Stats{Filtered: len(snapshot.Orders), Vetoed: true}
	}

	var stats Stats
	for _, order := range snapshot.Orders {
		transformed, err := Apply(order, master, slave)
		if err != nil {
			stats.Filtered++
			continue
		}
		out.Orders = append(out.Orders, transformed)
		stats.Kept++
	}

	return out, stats
}

// ReverseType возвращает противоположный тип ордера; неизвестные типы не меняются
func ReverseType(orderType string) string {
	if r, ok := reverseTypes[strings.ToUpper(strings.TrimSpace(orderType))]; ok {
		return r
	}
	return orderType
}

func reverse(o models.OrderRecord) models.OrderRecord {
	o.Type = ReverseType(o.Type)
	o.StopLoss, o.TakeProfit = o.TakeProfit, o.StopLoss
	return o
}

func transformLot(lot float64, forceLot *float64, multiplier float64) float64 {
	if forceLot != nil && *forceLot > 0 {
		return *forceLot
	}
	if multiplier > 0 && multiplier != 1 {
		return lot * multiplier
	}
	return lot
}

// roundLot приводит лот к шагу LotStep, положительный лот не становится нулевым
func roundLot(lot float64) float64 {
	if lot <= 0 {
		return lot
	}
	// k/100 даёт ровно то же значение, что и литерал "0.kk"
	rounded := math.Round(lot*lotsPerUnit) / lotsPerUnit
	if rounded < LotStep {
		return LotStep
	}
	return rounded
}

func contains(list []string, value string) bool {
	for _, v := range list {
		if strings.ToUpper(strings.TrimSpace(v)) == value {
			return true
		}
	}
	return false
}
