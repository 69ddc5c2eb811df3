package app

import (
	"sensorlink/internal/service/ingest"
)

// apiController - конвейер приема в том виде, в котором его видит HTTP API:
// подключение идет через App (с паузой опроса портов), в статистику
// добавляется счетчик отброшенных диспетчером уведомлений.
type apiController struct {
	*ingest.Coordinator
	app *App
}

func (c apiController) Connect(port string) error {
	return c.app.connect(port)
}

func (c apiController) Stats() ingest.Stats {
	stats := c.Coordinator.Stats()
	stats.DeliveryDropped = c.app.dispatcher.Dropped()
	return stats
}
