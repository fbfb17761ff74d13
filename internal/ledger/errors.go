package ledger

import (
	"errors"
	"fmt"
)

var (
	// ErrBusy - файл заблокирован EA. Операция пропускается и повторяется на следующем тике.
	ErrBusy = errors.New("ledger file is busy")
	// ErrNotFound - ledger файла аккаунта нет
	ErrNotFound = errors.New("ledger not found")
	// ErrUnchanged возвращается из MutateFunc, когда записывать нечего
	ErrUnchanged = errors.New("ledger unchanged")
	// ErrInvalidID - id аккаунта нельзя использовать как имя файла
	ErrInvalidID = errors.New("invalid account id")
)

// StorageError - запись не удалась по причине, отличной от блокировки файла
type StorageError struct {
	Op        string
	AccountID string
	Err       error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("ledger %s %s: %v", e.Op, e.AccountID, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// IsBusy возвращает true если ошибка означает занятый файл
func IsBusy(err error) bool {
	return errors.Is(err, ErrBusy)
}
