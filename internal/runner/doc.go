// Package runner содержит движок выполнения одной попытки task (Engine).
//
// Engine.Run проводит попытку через проверки, trigger, вызов тела и dynamic
// expansion, сохраняя контрольные точки в store.Store, и всегда возвращает
// терминальное состояние: ошибки и panic не выходят за пределы движка.
// Повторные попытки не выполняются на месте: движок создаёт новую запись
// с scheduled_start, которую позже запускает планировщик retry.
//
// Файлы:
//   - engine.go    — шаги выполнения попытки
//   - expansion.go — dynamic expansion: отправка порождённых units и ожидание
//   - unit.go      — выполнение TaskUnit из fabric (загрузка или создание записи)
package runner
