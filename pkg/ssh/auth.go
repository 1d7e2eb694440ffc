package ssh

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"

	"github.com/wentf9/sftpq/pkg/models"
)

const (
	AuthPassword = "password"
	AuthKey      = "key"
	AuthAgent    = "agent"
)

var ErrPassphraseRequired = errors.New("private key is encrypted, passphrase required")

// authMethods 根据 Identity 的 AuthType 生成认证方式
// 密码认证同时应答 keyboard-interactive，部分服务器只开放这种方式
func authMethods(id models.Identity) ([]ssh.AuthMethod, error) {
	switch id.AuthType {
	case AuthPassword:
		if id.Password == "" {
			return nil, fmt.Errorf("auth type is password but password is empty")
		}
		return []ssh.AuthMethod{
			ssh.Password(id.Password),
			ssh.KeyboardInteractive(answerWith(id.Password)),
		}, nil
	case AuthKey:
		signer, err := loadSigner(id.KeyPath, id.Passphrase)
		if err != nil {
			return nil, err
		}
		return []ssh.AuthMethod{ssh.PublicKeys(signer)}, nil
	case AuthAgent:
		sock := os.Getenv("SSH_AUTH_SOCK")
		if sock == "" {
			return nil, fmt.Errorf("auth type is agent but SSH_AUTH_SOCK is not set")
		}
		// 每次握手重新连接 agent，断开的 agent 只影响本次认证
		return []ssh.AuthMethod{ssh.PublicKeysCallback(func() ([]ssh.Signer, error) {
			conn, err := net.Dial("unix", sock)
			if err != nil {
				return nil, fmt.Errorf("connect ssh agent: %w", err)
			}
			return agent.NewClient(conn).Signers()
		})}, nil
	default:
		return nil, fmt.Errorf("unsupported auth type: %q", id.AuthType)
	}
}

func answerWith(password string) ssh.KeyboardInteractiveChallenge {
	return func(user, instruction string, questions []string, echos []bool) ([]string, error) {
		answers := make([]string, len(questions))
		for i := range questions {
			answers[i] = password
		}
		return answers, nil
	}
}

func loadSigner(path, passphrase string) (ssh.Signer, error) {
	if path == "" {
		return nil, fmt.Errorf("auth type is key but key_path is empty")
	}
	keyData, err := os.ReadFile(expandHomeDir(path))
	if err != nil {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}
	var signer ssh.Signer
	if passphrase != "" {
		signer, err = ssh.ParsePrivateKeyWithPassphrase(keyData, []byte(passphrase))
	} else {
		signer, err = ssh.ParsePrivateKey(keyData)
	}
	var missing *ssh.PassphraseMissingError
	if errors.As(err, &missing) {
		return nil, fmt.Errorf("%s: %w", path, ErrPassphraseRequired)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	return signer, nil
}

func expandHomeDir(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}
