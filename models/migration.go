package models

import (
	"log"

	"bitbucket.org/dukalink/shop_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&User{},
		&Order{}, &OrderItem{},
		&CartItem{},
		&Transaction{},
		&Notification{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
