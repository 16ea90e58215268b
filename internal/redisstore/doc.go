// Package redisstore реализует store.Store поверх Redis (go-redis).
//
// Раскладка ключей (prefix по умолчанию "taskrunner:"):
//
//	{prefix}taskrun:{flow_run_id}/{task_id}#{n}   JSON попытки
//	{prefix}attempts:{flow_run_id}/{task_id}      ZSET ключей попыток, score = run_number
//	{prefix}due                                   ZSET PENDING попыток, score = scheduled_start (ms)
//	{prefix}flowrun:{id}                          JSON flow run
//
// Compare-and-swap выполняется через WATCH/MULTI: запись сравнивает версию
// с сохранённой и меняет индексы в той же транзакции.
package redisstore
