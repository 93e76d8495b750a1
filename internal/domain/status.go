package domain

// ProgramStatus — статус компиляции программы.
//
// Жизненный цикл:
//
//	UNCOMPILED → COMPILING → COMPILED
//	                       ↘ COMPILE_FAILED → COMPILING (повторный запрос)
type ProgramStatus string

const (
	// ProgramStatusUncompiled — исходник сохранён, компиляция не запрашивалась.
	ProgramStatusUncompiled ProgramStatus = "UNCOMPILED"

	// ProgramStatusCompiling — задание отправлено компилятору, результат ожидается.
	ProgramStatusCompiling ProgramStatus = "COMPILING"

	// ProgramStatusCompileFailed — компилятор вернул ошибку (диагностика в Diagnostics).
	ProgramStatusCompileFailed ProgramStatus = "COMPILE_FAILED"

	// ProgramStatusCompiled — артефакт готов (ссылка в ArtifactRef).
	ProgramStatusCompiled ProgramStatus = "COMPILED"
)

// CanRequestCompile возвращает true, если для программы можно запросить компиляцию.
// Повторный запрос во время COMPILING коалесцируется оркестратором,
// здесь он не считается допустимым переходом.
func (s ProgramStatus) CanRequestCompile() bool {
	return s == ProgramStatusUncompiled || s == ProgramStatusCompileFailed
}

// PipelineStatus — статус pipeline.
//
// Жизненный цикл:
//
//	SHUTDOWN → PROVISIONING → RUNNING ⇄ PAUSED
//	                        ↘ FAILED (из PROVISIONING/RUNNING/PAUSED)
//
// SHUTDOWN достижим из любого статуса через явный shutdown.
type PipelineStatus string

const (
	// PipelineStatusShutdown — runtime-процесс отсутствует. Начальный и
	// единственный статус, из которого pipeline можно удалить.
	PipelineStatusShutdown PipelineStatus = "SHUTDOWN"

	// PipelineStatusProvisioning — запрошен запуск, процесс ещё не подтвердил готовность.
	PipelineStatusProvisioning PipelineStatus = "PROVISIONING"

	// PipelineStatusRunning — процесс работает и потребляет входные данные.
	PipelineStatusRunning PipelineStatus = "RUNNING"

	// PipelineStatusPaused — процесс жив, потребление входных данных приостановлено.
	PipelineStatusPaused PipelineStatus = "PAUSED"

	// PipelineStatusFailed — процесс неожиданно умер или не смог запуститься.
	// Повторный deploy из FAILED выполняет неявный сброс.
	PipelineStatusFailed PipelineStatus = "FAILED"
)

// IsActive возвращает true, если pipeline предполагает живой runtime-процесс.
// Такие pipelines наблюдает health-реконсилятор.
func (s PipelineStatus) IsActive() bool {
	switch s {
	case PipelineStatusProvisioning, PipelineStatusRunning, PipelineStatusPaused:
		return true
	default:
		return false
	}
}

// CanDeploy возвращает true, если из статуса допустим deploy.
func (s PipelineStatus) CanDeploy() bool {
	return s == PipelineStatusShutdown || s == PipelineStatusFailed
}

// Direction — направление потока данных коннектора.
type Direction string

const (
	// DirectionInput — коннектор поставляет данные в программу.
	DirectionInput Direction = "INPUT"

	// DirectionOutput — коннектор принимает данные из программы.
	DirectionOutput Direction = "OUTPUT"

	// DirectionInputOutput — коннектор пригоден для обеих ролей.
	DirectionInputOutput Direction = "INPUT_OUTPUT"
)

// CompatibleWith проверяет совместимость направления коннектора с ролью.
// INPUT-роль требует INPUT или INPUT_OUTPUT коннектор, аналогично для OUTPUT.
func (d Direction) CompatibleWith(role Direction) bool {
	if d == DirectionInputOutput {
		return true
	}
	return d == role
}

// Transport — вид транспорта коннектора.
//
// Транспорты валидируются структурно при регистрации коннектора;
// данные по ним двигает runtime, а не control plane.
type Transport string

const (
	// TransportBrokerIn — чтение из топика брокера сообщений (Kafka/Redpanda).
	TransportBrokerIn Transport = "broker_in"

	// TransportBrokerOut — запись в топик брокера сообщений.
	TransportBrokerOut Transport = "broker_out"

	// TransportCDCIn — change-data-capture поток из реляционной БД.
	TransportCDCIn Transport = "cdc_in"

	// TransportWarehouseOut — выгрузка в аналитическое хранилище.
	TransportWarehouseOut Transport = "warehouse_out"

	// TransportHTTPGet — периодический HTTP GET как источник.
	TransportHTTPGet Transport = "http_get"
)

// ScheduleAction — действие над pipeline, выполняемое по расписанию.
type ScheduleAction string

const (
	ScheduleActionDeploy   ScheduleAction = "DEPLOY"
	ScheduleActionPause    ScheduleAction = "PAUSE"
	ScheduleActionResume   ScheduleAction = "RESUME"
	ScheduleActionShutdown ScheduleAction = "SHUTDOWN"
)

// Valid проверяет, что действие известно.
func (a ScheduleAction) Valid() bool {
	switch a {
	case ScheduleActionDeploy, ScheduleActionPause, ScheduleActionResume, ScheduleActionShutdown:
		return true
	default:
		return false
	}
}
