// Package worker выполняет units, полученные через fabric.
//
// # Обзор
//
// Worker — stateless компонент системы Taskrunner. Он потребляет units из
// очередей units.submitted (flows, повторные попытки) и units.expanded
// (дети dynamic expansion) и передаёт их Dispatcher'у:
//
//   - TaskUnit — попытка task выполняется движком (runner.Engine.RunUnit)
//   - FlowUnit — flow run выполняется flow runner'ом (flow.Runner.Run)
//
// Если отправитель ждёт результат (reply_to), воркер публикует unit.resolved
// в его очередь ответов. Исход попытки хранится в Store; в ответ попадает
// только инфраструктурная ошибка.
//
// Workers масштабируются горизонтально — несколько экземпляров
// потребляют из одних очередей.
//
// # Ключевые компоненты
//
// ## Registry
//
// Реестр определений tasks и flows. Между процессами передаются только
// идентификаторы, поэтому каждый воркер регистрирует одни и те же определения.
// NewRegistry() создаёт реестр со встроенными tasks (http, delay, transform).
//
// ## Dispatcher
//
// Реализует fabric.Executor и используется двумя способами:
//
//	local := fabric.NewLocal(fabric.LocalConfig{Logger: logger})
//	engine := runner.New(runner.Config{Store: st, Fabric: local})
//	flows := flow.New(flow.Config{Engine: engine, Store: st})
//	d := worker.NewDispatcher(worker.DispatcherConfig{
//	    Registry: registry,
//	    Engine:   engine,
//	    Flows:    flows,
//	    Store:    st,
//	})
//	local.Bind(d)
//
// или как исполнитель AMQP consumer'а в Worker.
//
// ## Повторные попытки
//
// Повторную попытку (run_number > 1) приносит планировщик retry. Dispatcher
// восстанавливает состояния предшественников из хранилища, выполняет попытку
// и, если flow run владельца ещё RUNNING, продолжает его.
//
// # Обработка unit
//
//  1. Парсинг payload, валидация unit (некорректный → DLQ)
//  2. Dispatcher.Execute
//  3. Инфраструктурная ошибка (хранилище недоступно) → nack с requeue
//  4. Ответ unit.resolved в reply_to, ack
package worker
