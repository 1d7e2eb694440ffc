package sftp

const (
	DefaultThreadsPerFile = 64
	DefaultChunkSize      = 32 * 1024 // 32KB SFTP 默认包大小优化
)

// TransferConfig 定义传输配置
type TransferConfig struct {
	ThreadsPerFile int   // 单个文件的并发分块数
	ChunkSize      int64 // 分块大小
}

func DefaultConfig() TransferConfig {
	return TransferConfig{
		ThreadsPerFile: DefaultThreadsPerFile,
		ChunkSize:      DefaultChunkSize,
	}
}

// ProgressCallback 进度回调，done 为累计传输的字节数，total 为文件大小
// 此函数必须是并发安全的，返回错误时中止传输
type ProgressCallback = func(done, total int64) error
