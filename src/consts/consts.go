package consts

import (
	"fmt"
	"os"
	"runtime"
)

const (
	AppName = "tjmigrate"
)

type Info struct {
	AppName    string `json:"app_name"`
	AppVersion string `json:"app_version"`
	BuildTime  string `json:"build_time"`
	GitHash    string `json:"git_hash"`
	Pid        int    `json:"pid"`
	Platform   string `json:"platform"`
	GoVersion  string `json:"go_version"`
}

var (
	BuildTime  string
	AppVersion string
	GitHash    string
)

// GetAppInfo 返回应用信息
// 注意：必须使用函数而非变量，因为 AppVersion 等字段是通过 -ldflags 在链接阶段注入的
func GetAppInfo() Info {
	version := AppVersion
	if version == "" {
		version = "dev"
	}
	return Info{
		AppName:    AppName,
		AppVersion: version,
		BuildTime:  BuildTime,
		GitHash:    GitHash,
		Pid:        os.Getpid(),
		Platform:   fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
		GoVersion:  runtime.Version(),
	}
}

// Release sentry 使用的版本标识
func (i Info) Release() string {
	if i.GitHash == "" {
		return i.AppName + "@" + i.AppVersion
	}
	return i.AppName + "@" + i.AppVersion + "+" + i.GitHash
}
