package migrations

import (
	"github.com/pocketbase/pocketbase/core"
	m "github.com/pocketbase/pocketbase/migrations"
	"github.com/pocketbase/pocketbase/tools/types"
)

// queue_configs holds the per (event, registration type) admission
// policy. Queueing is opt-in: events without a row here are never
// queued.
func init() {
	m.Register(func(app core.App) error {
		collection := core.NewBaseCollection("queue_configs")

		collection.Fields.Add(
			&core.TextField{Name: "event", Required: true},
			&core.TextField{Name: "registration_type", Required: true},
			&core.BoolField{Name: "enabled"},
			&core.NumberField{Name: "max_active", OnlyInt: true, Min: types.Pointer(1.0), Max: types.Pointer(500.0)},
			&core.NumberField{Name: "session_minutes", OnlyInt: true, Min: types.Pointer(1.0), Max: types.Pointer(240.0)},
			&core.BoolField{Name: "extension_allowed"},
			&core.TextField{Name: "waiting_room_message"},
			&core.AutodateField{Name: "created", OnCreate: true},
			&core.AutodateField{Name: "updated", OnCreate: true, OnUpdate: true},
		)

		collection.AddIndex("idx_queue_configs_event_type", true, "event, registration_type", "")

		return app.Save(collection)
	}, func(app core.App) error {
		collection, err := app.FindCollectionByNameOrId("queue_configs")
		if err != nil {
			return err
		}
		return app.Delete(collection)
	})
}
