package consts

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetAppInfo(t *testing.T) {
	info := GetAppInfo()
	assert.Equal(t, AppName, info.AppName)
	assert.NotEmpty(t, info.AppVersion)
	assert.NotZero(t, info.Pid)

	assert.Equal(t, "tjmigrate@1.2.3", Info{AppName: "tjmigrate", AppVersion: "1.2.3"}.Release())
	assert.Equal(t, "tjmigrate@1.2.3+abc", Info{AppName: "tjmigrate", AppVersion: "1.2.3", GitHash: "abc"}.Release())
}
