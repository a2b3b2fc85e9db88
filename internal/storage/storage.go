// Package storage provides the key/value "local storage" the chat store persists into.
package storage

// LocalStorage mirrors the browser localStorage contract: string keys to string values.
type LocalStorage interface {
	GetItem(key string) (string, bool, error)
	SetItem(key, value string) error
	RemoveItem(key string) error
}
