package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/wentf9/sftpq/pkg/crypto"
	"github.com/wentf9/sftpq/pkg/models"
	"github.com/wentf9/sftpq/pkg/utils/concurrent"
	"github.com/wentf9/sftpq/pkg/utils/file"
)

type Store interface {
	Load() (*Configuration, error)
	Save(cfg *Configuration) error
}

type defaultStore struct {
	Path  string
	vault *crypto.Vault // 加解密配置文件中的敏感字段
}

func NewDefaultStore(path, keyPath string) Store {
	return &defaultStore{
		Path:  path,
		vault: crypto.NewVault(keyPath),
	}
}

// Load 读取配置文件，文件不存在时返回默认配置
func (s *defaultStore) Load() (*Configuration, error) {
	cfg := NewConfiguration()
	data, err := os.ReadFile(s.Path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", s.Path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", s.Path, err)
	}
	if err := s.convertSecrets(cfg.Identities, false); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save 加密敏感字段后写回文件，内存中的配置保持明文
func (s *defaultStore) Save(cfg *Configuration) error {
	out := *cfg
	out.Identities = concurrent.NewMap[string, models.Identity](concurrent.HashString)
	cfg.Identities.IterCb(func(k string, v models.Identity) bool {
		out.Identities.Set(k, v)
		return true
	})
	if err := s.convertSecrets(out.Identities, true); err != nil {
		return err
	}
	data, err := yaml.Marshal(&out)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := file.WriteAtomic(s.Path, data, 0600); err != nil {
		return fmt.Errorf("write config %s: %w", s.Path, err)
	}
	return nil
}

// convertSecrets 加密或解密每个身份的密码和私钥口令
// 解密时跳过明文字段，加密时跳过已加密字段，只有真正需要时才读取密钥
func (s *defaultStore) convertSecrets(ids *concurrent.Map[string, models.Identity], encrypt bool) error {
	convert := func(label, v string) (string, error) {
		if v == "" || crypto.IsEncrypted(v) == encrypt {
			return v, nil
		}
		if encrypt {
			return s.vault.Seal(label, v)
		}
		return s.vault.Open(label, v)
	}

	for _, name := range ids.Keys() {
		id, ok := ids.Get(name)
		if !ok {
			continue
		}
		var err error
		if id.Password, err = convert("password", id.Password); err != nil {
			return fmt.Errorf("identity %s password: %w", name, err)
		}
		if id.Passphrase, err = convert("passphrase", id.Passphrase); err != nil {
			return fmt.Errorf("identity %s passphrase: %w", name, err)
		}
		ids.Set(name, id)
	}
	return nil
}
