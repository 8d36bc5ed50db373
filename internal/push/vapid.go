package push

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	webpush "github.com/SherClockHolmes/webpush-go"

	"github.com/fanout/internal/logger"
)

// VAPIDKeys — пара ключей Web Push.
type VAPIDKeys struct {
	PublicKey  string `json:"public_key"`
	PrivateKey string `json:"private_key"`
}

func (k *VAPIDKeys) complete() bool {
	return k != nil && k.PublicKey != "" && k.PrivateKey != ""
}

const defaultVAPIDKeysPath = "config/vapid.json"

// ResolveVAPIDKeys возвращает пару из env, если она задана целиком.
// Иначе ключи берутся из файла path, а при его отсутствии генерируются и сохраняются туда.
func ResolveVAPIDKeys(publicKey, privateKey, path string) (*VAPIDKeys, error) {
	explicit := &VAPIDKeys{PublicKey: publicKey, PrivateKey: privateKey}
	switch {
	case explicit.complete():
		return explicit, nil
	case publicKey != "" || privateKey != "":
		return nil, errors.New("vapid: VAPID_PUBLIC_KEY и VAPID_PRIVATE_KEY задаются только вместе")
	}
	return EnsureVAPIDKeys(path)
}

// EnsureVAPIDKeys читает пару из файла или создаёт новую.
// Если сохранить не удалось, сгенерированные ключи всё равно возвращаются.
func EnsureVAPIDKeys(path string) (*VAPIDKeys, error) {
	if path == "" {
		path = defaultVAPIDKeysPath
	}
	if keys, err := readVAPIDKeys(path); err == nil && keys.complete() {
		return keys, nil
	} else if err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warnf("push: %s не читается (%v), генерируем новые VAPID-ключи", path, err)
	}

	priv, pub, err := webpush.GenerateVAPIDKeys()
	if err != nil {
		return nil, fmt.Errorf("vapid: generate: %w", err)
	}
	keys := &VAPIDKeys{PublicKey: pub, PrivateKey: priv}
	if err := writeVAPIDKeys(path, keys); err != nil {
		logger.Errorf("push: VAPID-ключи не сохранены в %s: %v", path, err)
		return keys, nil
	}
	logger.Infof("push: новые VAPID-ключи записаны в %s", path)
	return keys, nil
}

func readVAPIDKeys(path string) (*VAPIDKeys, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	keys := new(VAPIDKeys)
	if err := json.Unmarshal(raw, keys); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return keys, nil
}

// writeVAPIDKeys пишет через временный файл, чтобы соседний процесс не прочитал половину.
func writeVAPIDKeys(path string, keys *VAPIDKeys) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	raw, err := json.MarshalIndent(keys, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".vapid-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
