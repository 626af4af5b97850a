package contract

import (
	"path"
	"strings"
)

// NormalizeFileID 规范化路径，统一为跨平台稳定的 FileID。
// 规则：
// - 使用正斜杠分隔符
// - 清理多余分隔符与路径片段（.、..）
// - 保留相对/绝对语义，不做隐式绝对化
func NormalizeFileID(p string) FileID {
	s := strings.ReplaceAll(p, "\\", "/")
	return FileID(path.Clean(s))
}

// Flatten 将 FileID 压平为单个文件名（用于快照命名）。
// 去掉卷名与前导斜杠；片段内的 "_" 转义为 "_5f"，".." 片段替换为 "_up_"，分隔符替换为 "__"。
// 转义保证不同 FileID（同卷内）得到不同的名字。
func (id FileID) Flatten() string {
	s := string(id)
	if i := strings.IndexByte(s, ':'); i == 1 {
		s = s[2:]
	}
	s = strings.TrimLeft(s, "/")
	parts := strings.Split(s, "/")
	for i, p := range parts {
		if p == ".." {
			parts[i] = "_up_"
			continue
		}
		parts[i] = strings.ReplaceAll(p, "_", "_5f")
	}
	out := strings.Join(parts, "__")
	if out == "" || out == "." {
		return "_"
	}
	return out
}
