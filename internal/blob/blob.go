// Package blob хранит бинарные артефакты: изображения и миниатюры.
//
// Реализации: FSStore (локальный каталог), GCSStore (Google Cloud Storage)
// и MemoryStore для тестов. Ссылка (ref), которую возвращает Put, — это
// ключ объекта; его же принимают Get, Delete и URL.
package blob

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
)

// ErrNotFound — объекта с такой ссылкой нет.
var ErrNotFound = errors.New("blob not found")

// Store — хранилище бинарных объектов.
type Store interface {
	// Put записывает data под ключом key и возвращает ссылку.
	// Запись под тем же ключом перезаписывает объект.
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)

	// Get читает объект по ссылке.
	Get(ctx context.Context, ref string) ([]byte, error)

	// Delete удаляет объект. Отсутствующий объект ошибкой не считается.
	Delete(ctx context.Context, ref string) error

	// URL возвращает публичный адрес объекта для внешних платформ.
	URL(ref string) string
}

// cleanKey нормализует ключ и запрещает выход за пределы хранилища.
func cleanKey(key string) (string, error) {
	k := path.Clean("/" + strings.TrimSpace(key))
	k = strings.TrimPrefix(k, "/")
	if k == "" || k == "." {
		return "", fmt.Errorf("invalid blob key %q", key)
	}
	return k, nil
}

func joinURL(base, key string) string {
	if base == "" {
		return key
	}
	return strings.TrimRight(base, "/") + "/" + key
}
