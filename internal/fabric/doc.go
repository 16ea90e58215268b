// Package fabric описывает вычислительную среду, в которую движок отправляет
// независимые единицы работы (units) и из которой собирает их завершение.
//
// Контракт:
//   - Submit не блокирует, всегда имеет побочный эффект и не дедуплицирует units;
//   - Gather ждёт завершения всех переданных handles, независимо от исхода
//     каждого (без fail-fast), и возвращает объединённые инфраструктурные ошибки.
//
// Реализации:
//   - Local — горутины в текущем процессе (тесты, локальный режим)
//   - AMQP  — RabbitMQ: ожидаемые units публикуются в units.expanded, остальные
//     в units.submitted; воркеры отвечают в reply-очередь отправителя
package fabric
