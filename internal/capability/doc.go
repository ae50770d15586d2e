// Package capability отслеживает активные capability-теги шагов.
//
// Таблица активаций разделяется всеми конкурентно выполняющимися
// шагами run'а, поэтому учёт ведётся счётчиком держателей: тег
// остаётся активным, пока его не освободил последний держатель.
package capability
