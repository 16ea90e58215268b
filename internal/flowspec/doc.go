// Package flowspec загружает декларативные определения flows из JSON.
//
// Flow из файла собирается из встроенных tasks воркера (http, delay,
// transform): каждый task спецификации ссылается на базовый тип и задаёт
// свои параметры, зависимости, trigger и политику retry.
//
//	{
//	  "id": "nightly-sync",
//	  "tasks": [
//	    {"id": "fetch", "type": "http", "params": {"url": "{{ .Params.source }}"}},
//	    {"id": "notify", "type": "http", "depends_on": ["fetch"], "trigger": "all_finished",
//	     "params": {"url": "{{ .Env.HOOK_URL }}", "method": "POST"}}
//	  ]
//	}
//
// Строковые параметры — Go templates. Они рендерятся при каждом вызове
// с параметрами попытки ({{ .Params.x }}), идентичностью task ({{ .Task.ID }})
// и переменными окружения ({{ .Env.VAR }}).
package flowspec
