// Package store описывает контракт хранилища попыток (TaskRun) и flow runs.
//
// Хранилище — источник истины между процессами. Движок пишет в него
// контрольные точки на каждом шаге попытки; внешние наблюдатели (CLI,
// flow runner) могут параллельно обновлять те же записи.
//
// Все записи условные: TaskRun.Version сравнивается с версией в хранилище
// (compare-and-swap). SaveOrReload при конфликте перечитывает запись,
// сливает локальные поля с сохранёнными и повторяет запись.
//
// Реализации:
//   - Memory — в памяти процесса (тесты, локальный режим)
//   - repo.Store — PostgreSQL
//   - redisstore.Store — Redis
package store
