// Package scheduler реализует автоматический запуск definitions по расписанию.
//
// Расписания задаются в YAML (cron-выражение или интервал в секундах)
// и проверяются каждый тик. Due-расписание запускает run через
// оркестратор; если предыдущий run ещё активен, срабатывание
// пропускается.
//
// Структура:
//   - schedule.go  — тип Schedule и загрузка YAML-файла расписаний
//   - scheduler.go — цикл планировщика (Run, Tick)
//   - cron.go      — парсинг cron-выражений и вычисление следующего времени
//
// Использование:
//
//	schedules, _ := scheduler.LoadFile("schedules.yaml")
//	sched, _ := scheduler.New(scheduler.Config{
//	    Starter:   orch,
//	    Schedules: schedules,
//	    Logger:    logger,
//	})
//	go sched.Run(ctx)
package scheduler
