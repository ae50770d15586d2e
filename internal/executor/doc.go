// Package executor содержит исполнителей шагов и их реестр.
//
// Оркестратор разрешает исполнителя для каждого шага через Registry:
// точечный binding по id шага имеет приоритет, иначе берётся
// исполнитель по типу шага (http, delay, transform).
//
// Конфигурация шага перед выполнением рендерится через Go templates
// с доступом к {{ .inputs.X }} и {{ .steps.ID.outputs.Y }}.
package executor
