package version

// Version 信息统一管理
// 这是项目中唯一的版本号定义文件，所有其他文件都应该引用这里的版本信息
const (
	// Version 完整版本号（不带v前缀）
	Version = "0.9.2"
	// VersionWithPrefix 带v前缀的版本号
	VersionWithPrefix = "v0.9.2"
)

// BuildInfo 构建信息
var (
	// BuildTime 构建时间（通过ldflags设置）
	BuildTime = "unknown"
	// GitCommit Git提交哈希（通过ldflags设置）
	GitCommit = "unknown"
)

// GetVersion 获取版本号（不带前缀）
func GetVersion() string {
	return Version
}

// GetVersionWithPrefix 获取带v前缀的版本号
func GetVersionWithPrefix() string {
	return VersionWithPrefix
}

// SetBuildInfo 设置构建信息（用于构建时通过ldflags设置）
func SetBuildInfo(buildTime, gitCommit string) {
	BuildTime = buildTime
	GitCommit = gitCommit
}

// GetFullVersionInfo 获取完整版本信息
func GetFullVersionInfo() string {
	return VersionWithPrefix + " (built at " + BuildTime + ", commit " + GitCommit + ")"
}
