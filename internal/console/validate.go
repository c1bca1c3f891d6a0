package console

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/kbeye/console/internal/config"
	"github.com/kbeye/console/internal/model"
)

// serviceIDPattern 服务ID只允许小写字母、数字和连字符
var serviceIDPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{1,62}$`)

// createServiceRequest 添加服务表单的请求体
type createServiceRequest struct {
	ServiceID      string `json:"service_id"`
	Name           string `json:"name"`
	URL            string `json:"url"`
	HealthEndpoint string `json:"health_endpoint"`
	LogsEndpoint   string `json:"logs_endpoint"`
	CheckInterval  int    `json:"check_interval"`
	LogLines       int    `json:"log_lines"`
	Timeout        int    `json:"timeout"`
	ExpectedStatus int    `json:"expected_status"`
}

// applyDefaults 填充未提交的可选字段
func (r *createServiceRequest) applyDefaults(cfg *config.Config) {
	if r.HealthEndpoint == "" {
		r.HealthEndpoint = "/health"
	}
	if r.LogsEndpoint == "" {
		r.LogsEndpoint = "/logs"
	}
	if r.CheckInterval == 0 {
		r.CheckInterval = 30
	}
	if r.LogLines == 0 {
		r.LogLines = cfg.Logs.DefaultLines
	}
	if r.Timeout == 0 {
		r.Timeout = 5000
	}
	if r.ExpectedStatus == 0 {
		r.ExpectedStatus = 200
	}
}

// validate 字段级校验
//
// 返回逐字段的错误表，为空表示通过。校验错误保存在
// 响应体中返回，从不以异常形式向上传播。
func (r *createServiceRequest) validate() map[string]string {
	errs := make(map[string]string)

	if r.ServiceID == "" {
		errs["service_id"] = "服务ID不能为空"
	} else if !serviceIDPattern.MatchString(r.ServiceID) {
		errs["service_id"] = "服务ID只能包含小写字母、数字和连字符，长度2-63"
	}

	if strings.TrimSpace(r.Name) == "" {
		errs["name"] = "服务名称不能为空"
	}

	if r.URL == "" {
		errs["url"] = "服务地址不能为空"
	} else {
		u, err := url.Parse(r.URL)
		switch {
		case err != nil:
			errs["url"] = "服务地址无法解析"
		case u.Scheme != "http" && u.Scheme != "https":
			errs["url"] = "服务地址必须以http://或https://开头"
		case u.Host == "":
			errs["url"] = "服务地址缺少主机名"
		}
	}

	if !strings.HasPrefix(r.HealthEndpoint, "/") {
		errs["health_endpoint"] = "健康检查路径必须以/开头"
	}
	if !strings.HasPrefix(r.LogsEndpoint, "/") {
		errs["logs_endpoint"] = "日志路径必须以/开头"
	}

	if r.CheckInterval < 5 {
		errs["check_interval"] = "检查间隔不能小于5秒"
	}
	if r.LogLines < 1 || r.LogLines > 1000 {
		errs["log_lines"] = "日志行数必须在1到1000之间"
	}
	if r.Timeout < 100 {
		errs["timeout"] = "超时不能小于100毫秒"
	}
	if r.ExpectedStatus < 100 || r.ExpectedStatus > 599 {
		errs["expected_status"] = "期望状态码必须在100到599之间"
	}

	return errs
}

// toService 转换为服务描述符
func (r *createServiceRequest) toService() model.Service {
	return model.Service{
		ServiceID:      r.ServiceID,
		Name:           strings.TrimSpace(r.Name),
		URL:            strings.TrimRight(r.URL, "/"),
		HealthEndpoint: r.HealthEndpoint,
		LogsEndpoint:   r.LogsEndpoint,
		CheckInterval:  r.CheckInterval,
		LogLines:       r.LogLines,
		Timeout:        r.Timeout,
		ExpectedStatus: r.ExpectedStatus,
		IsActive:       true,
	}
}
