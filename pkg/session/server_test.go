package session

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"net"
	"strconv"
	"sync"
	"testing"

	"github.com/pkg/sftp"
	gossh "golang.org/x/crypto/ssh"

	"github.com/wentf9/sftpq/pkg/config"
	"github.com/wentf9/sftpq/pkg/models"
	"github.com/wentf9/sftpq/pkg/ssh"
)

const (
	testUser     = "tester"
	testPassword = "pw"
)

// sshServer 进程内的 SSH 服务端，只支持 sftp 子系统，文件直接落在本地磁盘
type sshServer struct {
	ln    net.Listener
	mu    sync.Mutex
	conns []net.Conn
}

func startServer(t *testing.T) *sshServer {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	signer, err := gossh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatal(err)
	}
	cfg := &gossh.ServerConfig{
		PasswordCallback: func(c gossh.ConnMetadata, pass []byte) (*gossh.Permissions, error) {
			if c.User() == testUser && string(pass) == testPassword {
				return nil, nil
			}
			return nil, errors.New("access denied")
		},
	}
	cfg.AddHostKey(signer)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	s := &sshServer{ln: ln}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			s.mu.Lock()
			s.conns = append(s.conns, conn)
			s.mu.Unlock()
			go s.serve(conn, cfg)
		}
	}()
	t.Cleanup(func() {
		ln.Close()
		s.dropAll()
	})
	return s
}

func (s *sshServer) port() uint16 {
	return uint16(s.ln.Addr().(*net.TCPAddr).Port)
}

// dropAll 断开所有已建立的连接，模拟网络中断
func (s *sshServer) dropAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conns {
		c.Close()
	}
	s.conns = nil
}

func (s *sshServer) connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func (s *sshServer) serve(nConn net.Conn, cfg *gossh.ServerConfig) {
	sconn, chans, reqs, err := gossh.NewServerConn(nConn, cfg)
	if err != nil {
		return
	}
	defer sconn.Close()
	go gossh.DiscardRequests(reqs)

	for newCh := range chans {
		if newCh.ChannelType() != "session" {
			newCh.Reject(gossh.UnknownChannelType, "unsupported channel")
			continue
		}
		ch, requests, err := newCh.Accept()
		if err != nil {
			continue
		}
		go func() {
			for req := range requests {
				ok := req.Type == "subsystem" && subsystemName(req.Payload) == "sftp"
				req.Reply(ok, nil)
				if !ok {
					continue
				}
				go func() {
					defer ch.Close()
					server, err := sftp.NewServer(ch)
					if err != nil {
						return
					}
					server.Serve()
				}()
			}
		}()
	}
}

func subsystemName(payload []byte) string {
	if len(payload) < 4 {
		return ""
	}
	n := binary.BigEndian.Uint32(payload)
	if int(n) > len(payload)-4 {
		return ""
	}
	return string(payload[4 : 4+n])
}

// testConnector 生成指向 s 的节点配置
func testConnector(t *testing.T, s *sshServer, password string) *ssh.Connector {
	t.Helper()
	cfg := config.NewConfiguration()
	p := config.NewProvider(cfg)
	p.AddHost("local", models.Host{Address: "127.0.0.1", Port: s.port()})
	p.AddIdentity("tester", models.Identity{User: testUser, Password: password, AuthType: "password"})
	p.AddNode("box", models.Node{HostRef: "local", IdentityRef: "tester"})
	c := ssh.NewConnector(p)
	t.Cleanup(c.CloseAll)
	return c
}

func itoa(n int) string { return strconv.Itoa(n) }
