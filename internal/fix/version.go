package fix

import (
	"strings"

	"github.com/blang/semver/v4"
)

const beginStringPrefix = "FIX."

// FIXT.1.1 只定义会话层，其上承载的应用层版本从 FIX.5.0 开始。
var fixtApplVersion = semver.MustParse("5.0.0")

// Version 将 BeginString 解析为可比较的协议版本：FIX.4.2 为 4.2.0，FIXT.1.1 为 5.0.0。
func Version(beginString string) (semver.Version, bool) {
	if beginString == BeginStringFIXT11 {
		return fixtApplVersion, true
	}
	if !strings.HasPrefix(beginString, beginStringPrefix) {
		return semver.Version{}, false
	}
	v, err := semver.ParseTolerant(strings.TrimPrefix(beginString, beginStringPrefix))
	if err != nil {
		return semver.Version{}, false
	}
	return v, true
}

// AtLeast 判断 beginString 的协议版本是否不低于 min，无法解析时返回 false。
func AtLeast(beginString, min string) bool {
	v, ok := Version(beginString)
	if !ok {
		return false
	}
	m, ok := Version(min)
	return ok && v.GTE(m)
}
