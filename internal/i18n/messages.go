package i18n

import goi18n "github.com/nicksnyder/go-i18n/v2/i18n"

var enMessages = []*goi18n.Message{
	{ID: "BAD_REQUEST", Other: "Invalid request parameters"},
	{ID: "UNAUTHORIZED", Other: "Invalid or missing API key"},
	{ID: "NO_HEALTHY_ACCOUNT", Other: "No healthy upstream account is available"},
	{ID: "UPSTREAM_ERROR", Other: "Upstream service returned an error"},
	{ID: "STREAM_IO_ERROR", Other: "Failed to read the upstream stream"},
	{ID: "EMPTY_RESULT", Other: "Upstream produced no images"},
	{ID: "CLIENT_CLOSED", Other: "Client closed the request"},
	{ID: "TIMEOUT", Other: "Upstream call exceeded the time limit"},
	{ID: "INTERNAL_SERVER_ERROR", Other: "An unexpected error occurred"},
	{ID: "NOT_FOUND", Other: "Resource not found"},
}

var zhMessages = []*goi18n.Message{
	{ID: "BAD_REQUEST", Other: "请求参数无效"},
	{ID: "UNAUTHORIZED", Other: "API 密钥无效或缺失"},
	{ID: "NO_HEALTHY_ACCOUNT", Other: "没有可用的上游账号"},
	{ID: "UPSTREAM_ERROR", Other: "上游服务返回错误"},
	{ID: "STREAM_IO_ERROR", Other: "读取上游数据流失败"},
	{ID: "EMPTY_RESULT", Other: "上游未生成任何图片"},
	{ID: "CLIENT_CLOSED", Other: "客户端已关闭请求"},
	{ID: "TIMEOUT", Other: "上游调用超时"},
	{ID: "INTERNAL_SERVER_ERROR", Other: "发生了意外错误"},
	{ID: "NOT_FOUND", Other: "资源不存在"},
}
