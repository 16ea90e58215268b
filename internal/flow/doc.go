// Package flow содержит минимальный flow runner.
//
// Flow runner создаёт FlowRun, строит DAG tasks flow и проводит каждый task
// через движок (runner.Engine), передавая ему состояния непосредственных
// предшественников. Готовые tasks одного шага выполняются параллельно.
//
// Повторные попытки flow runner сам не запускает: их выполняет планировщик
// retry. Пока у task есть запланированная повторная попытка, flow run остаётся
// RUNNING; после её завершения worker снова отправляет flow в fabric, и runner
// продолжает с того места, где остановился (состояние восстанавливается из
// store.Store).
//
// Файлы:
//   - dag.go    — построение и обход DAG
//   - runner.go — выполнение flow run
package flow
