// Package repolink 将仓库规范链接转换为 owner/repo 形式。
package repolink

import (
	"fmt"
	"strings"
)

// OwnerRepo 去掉协议、主机、git@host: 前缀以及结尾的 .git 与斜杠，
// 返回 "owner/repo"。
//
//	https://github.com/acme/widgets.git -> acme/widgets
//	git@github.com:acme/widgets         -> acme/widgets
//	acme/widgets/                       -> acme/widgets
func OwnerRepo(link string) (string, error) {
	s := strings.TrimSpace(link)
	if s == "" {
		return "", fmt.Errorf("仓库链接为空")
	}

	if i := strings.Index(s, "://"); i != -1 {
		s = s[i+3:]
		// 去掉主机（含可能的 user@）
		if j := strings.Index(s, "/"); j != -1 {
			s = s[j+1:]
		} else {
			s = ""
		}
	} else if strings.HasPrefix(s, "git@") {
		if j := strings.Index(s, ":"); j != -1 {
			s = s[j+1:]
		}
	} else if parts := strings.SplitN(s, "/", 2); len(parts) == 2 && strings.Contains(parts[0], ".") {
		// github.com/acme/widgets
		s = parts[1]
	}

	if i := strings.IndexAny(s, "?#"); i != -1 {
		s = s[:i]
	}
	s = strings.Trim(s, "/")
	s = strings.TrimSuffix(s, ".git")
	s = strings.Trim(s, "/")

	parts := strings.Split(s, "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", fmt.Errorf("无法解析仓库链接: %q", link)
	}
	return parts[0] + "/" + parts[1], nil
}

// Split 拆分 owner/repo
func Split(ownerRepo string) (owner, name string, err error) {
	parts := strings.Split(strings.Trim(ownerRepo, "/"), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("非法仓库标识: %q", ownerRepo)
	}
	return parts[0], parts[1], nil
}
