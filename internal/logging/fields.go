package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// AssetFields 提供资源地址/类型/来源字段，供资源请求日志复用。
func AssetFields(url, kind, source string) logrus.Fields {
	fields := logrus.Fields{
		"url":  url,
		"kind": kind,
	}
	if source != "" {
		fields["source"] = source
		fields["cache_hit"] = source == "cache"
	}
	return fields
}
