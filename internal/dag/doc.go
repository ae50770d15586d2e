// Package dag содержит граф зависимостей шагов pipeline.
//
// Включает:
//   - validate.go — валидация Definition (ID, зависимости, циклы)
//   - dag.go      — построение и обход DAG (directed acyclic graph)
//
// Пакет отвечает за понимание структуры pipeline и вычисление
// готовых к выполнению шагов на основе текущих статусов.
package dag
