package agent

import "encoding/json"

// FactSheet 是一次运行中所有角色共享的工作记录。
type FactSheet struct {
	ProjectDescription string        `json:"project_description"`
	ProjectScope       *ProjectScope `json:"project_scope"`
	ExternalURLs       []string      `json:"external_urls"`
	BackendCode        *string       `json:"backend_code"`
	APIEndpointsSchema []RouteObject `json:"api_endpoints_schema"`
}

// ProjectScope 是架构师根据项目描述做出的范围判断。
type ProjectScope struct {
	IsCRUDRequired               bool `json:"is_crud_required"`
	IsUserLoginAndLogoutRequired bool `json:"is_user_login_and_logout"`
	IsExternalURLsRequired       bool `json:"is_external_urls_required"`
}

// RouteObject 描述从生成代码中提取出的一条路由。
// IsRouteDynamic 保持大模型输出的字符串形式（"true"/"false"）。
type RouteObject struct {
	IsRouteDynamic string `json:"is_route_dynamic"`
	Method         string `json:"method"`
	RequestBody    any    `json:"request_body"`
	Response       any    `json:"response"`
	Route          string `json:"route"`
}

// Testable 判断路由是否参与运行时校验：仅静态 GET 路由，大小写敏感。
func (r RouteObject) Testable() bool {
	return r.Method == "get" && r.IsRouteDynamic == "false"
}

// FilterTestableRoutes 按原顺序保留可校验的路由，结果永不为 nil。
func FilterTestableRoutes(routes []RouteObject) []RouteObject {
	kept := make([]RouteObject, 0, len(routes))
	for _, route := range routes {
		if route.Testable() {
			kept = append(kept, route)
		}
	}
	return kept
}

// JSON 返回事实表的 JSON 表示，作为改进代码时的上下文。
func (f *FactSheet) JSON() string {
	encoded, err := json.Marshal(f)
	if err != nil {
		return f.ProjectDescription
	}
	return string(encoded)
}

func (f *FactSheet) code() string {
	if f.BackendCode == nil {
		return ""
	}
	return *f.BackendCode
}
