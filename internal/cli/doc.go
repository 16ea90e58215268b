// Package cli реализует инструмент командной строки Taskrunner.
//
// # Обзор
//
// CLI — операторская утилита: читает flow runs и попытки tasks напрямую
// из хранилища (PostgreSQL) и отправляет новые units в очередь.
//
// # Ключевые компоненты
//
// ## Client
//
// Операции над хранилищем (Backend) и fabric.Dispatcher:
//
//	client := cli.NewClient(repo.NewStore(pool), amqpFabric)
//	runs, err := client.ListAttempts(ctx, "fr-1", "extract")
//
// Отмена не прерывает выполнение напрямую: flow run переводится в
// CANCELLED, а на незавершённые попытки ставится аннотация
// cancel-requested, которую движок читает при синхронизации.
//
// ## Output
//
// Форматирование вывода. Поддерживает два режима:
//   - Таблицы (text/tabwriter) — по умолчанию
//   - JSON — с флагом --json
//
// Данные выводятся в stdout, сообщения (Success/Error) — в stderr.
// Это позволяет использовать pipe: taskrunner flow list --json | jq .
//
// ## Commands
//
// Cobra-команды организованы по ресурсам:
//   - flow: list, show, start, cancel
//   - run: show, attempts, cancel, rerun
//
// Каждая группа создаётся через фабричную функцию (NewFlowCmd, NewRunCmd),
// принимающую clientFn и outputFn — замыкания для ленивого создания
// Client и Output после парсинга PersistentFlags.
package cli
