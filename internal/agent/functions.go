package agent

import (
	"fmt"

	"AgentForge/internal/llm"
)

// aiFunction 是一次“函数打印”式调用：名称加上对期望输出的描述。
type aiFunction struct {
	Name        string
	Description string
}

var (
	fnConvertUserInputToGoal = aiFunction{
		Name:        "convert_user_input_to_goal",
		Description: "Input: a user request. Output: a concise description, in one or two sentences, of the website or service the user wants built.",
	}
	fnPrintProjectScope = aiFunction{
		Name:        "print_project_scope",
		Description: `Input: a project description. Output: a JSON object {"is_crud_required": bool, "is_user_login_and_logout": bool, "is_external_urls_required": bool}.`,
	}
	fnPrintSiteURLs = aiFunction{
		Name:        "print_site_urls",
		Description: `Input: a project description. Output: a JSON array of public API URL strings the project relies on, e.g. ["https://api.example.com/v1/prices"].`,
	}
	fnPrintBackendWebserverCode = aiFunction{
		Name:        "print_backend_webserver_code",
		Description: "Input: a code template and a project description. Output: the complete source of a web server implementing the project, based on the template. Only code.",
	}
	fnPrintImprovedWebserverCode = aiFunction{
		Name:        "print_improved_webserver_code",
		Description: "Input: web server code and the project fact sheet. Output: an improved, complete version of the code that fully implements the fact sheet. Only code.",
	}
	fnPrintFixedCode = aiFunction{
		Name:        "print_fixed_code",
		Description: "Input: broken code and the build errors it produced. Output: the complete corrected code. Only code.",
	}
	fnPrintRESTAPIEndpoints = aiFunction{
		Name:        "print_rest_api_endpoints",
		Description: `Input: web server code. Output: a JSON array of {"is_route_dynamic": "true"|"false", "method": "get"|"post"|..., "request_body": any, "response": any, "route": "/path"} for every route. Methods lowercase.`,
	}
)

// message 用“函数打印机”指令包装输入，生成唯一的一条 system 消息。
func (f aiFunction) message(input string) llm.Message {
	return llm.Message{
		Role: llm.RoleSystem,
		Content: fmt.Sprintf("FUNCTION %s: %s\n"+
			"INSTRUCTION: You are a function printer. You ONLY print the results of functions. "+
			"Nothing else. No commentary. Here is the input to the function: %s.\n"+
			"Print out what the function will return.", f.Name, f.Description, input),
	}
}
