package config

// 构建时通过 -ldflags "-X ..." 注入
var (
	Version    = "dev"
	CommitHash = ""
	BuildTime  = ""
)

// IsProduction 生产构建：Version 打成 "release" 且带提交哈希
func IsProduction() bool {
	return Version == "release" && CommitHash != ""
}

// IsDevelopment 开发构建
func IsDevelopment() bool {
	return Version == "dev"
}
