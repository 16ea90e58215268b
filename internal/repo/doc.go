// Package repo реализует store.Store поверх PostgreSQL (pgx).
//
// Таблицы:
//   - task_runs — попытки, ключ (flow_run_id, task_id, run_number)
//   - flow_runs — flow runs
//
// Схема встроена в бинарник (schema.sql) и применяется EnsureSchema.
//
// Конкурентные записи разрешаются compare-and-swap по колонке version:
// UPDATE ... WHERE version = $n. Ни одна строка не обновлена — store.ErrConflict.
package repo
