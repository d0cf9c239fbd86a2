package migrations

import (
	"github.com/pocketbase/pocketbase/core"
	m "github.com/pocketbase/pocketbase/migrations"
)

// queue_sessions_archive retains terminal waiting-room sessions for
// audit and metrics after they leave the hot store.
func init() {
	m.Register(func(app core.App) error {
		collection := core.NewBaseCollection("queue_sessions_archive")

		collection.Fields.Add(
			&core.TextField{Name: "session_id", Required: true},
			&core.TextField{Name: "event", Required: true},
			&core.TextField{Name: "registration_type", Required: true},
			&core.TextField{Name: "client_key"},
			&core.SelectField{Name: "status", Values: []string{"completed", "expired", "abandoned"}, MaxSelect: 1},
			&core.NumberField{Name: "sequence", OnlyInt: true},
			&core.BoolField{Name: "extension_used"},
			&core.DateField{Name: "enrolled_at"},
			&core.DateField{Name: "admitted_at"},
			&core.DateField{Name: "ended_at"},
			&core.AutodateField{Name: "created", OnCreate: true},
		)

		collection.AddIndex("idx_queue_archive_event", false, "event, registration_type", "")
		collection.AddIndex("idx_queue_archive_status", false, "status", "")

		return app.Save(collection)
	}, func(app core.App) error {
		collection, err := app.FindCollectionByNameOrId("queue_sessions_archive")
		if err != nil {
			return err
		}
		return app.Delete(collection)
	})
}
