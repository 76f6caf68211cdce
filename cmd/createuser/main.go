package main

import (
	"errors"
	"fmt"
	"log"
	"os"

	"gorm.io/gorm"

	"github.com/housecrystal-18/shopscanner/app/models"
	"github.com/housecrystal-18/shopscanner/app/repository"
	"github.com/housecrystal-18/shopscanner/internal/pkg/database"
	"github.com/housecrystal-18/shopscanner/internal/pkg/env"
)

// createuser bootstraps the first account of a fresh deployment. It creates
// a user, issues an API key and prints the key once. Pass "admin" as the
// fourth argument to grant the admin role.
func main() {
	env.SetupEnvFile()

	if len(os.Args) < 4 {
		printUsage()
		os.Exit(1)
	}

	name := os.Args[1]
	email := os.Args[2]
	password := os.Args[3]
	role := models.ROLE_USER
	if len(os.Args) > 4 && os.Args[4] == "admin" {
		role = models.ROLE_ADMIN
	}

	database.SetupDatabase()
	users := repository.NewUserRepository(database.GetDB())

	if _, err := users.GetByEmail(email); err == nil {
		log.Fatalf("A user with email %s already exists", email)
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		log.Fatalf("Failed to check for existing user: %v", err)
	}

	user, err := models.CreateUser(name, email, password)
	if err != nil {
		log.Fatalf("Failed to create user: %v", err)
	}
	user.Role = role

	rawKey, err := user.IssueAPIKey()
	if err != nil {
		log.Fatalf("Failed to issue API key: %v", err)
	}

	if err := users.Create(user); err != nil {
		log.Fatalf("Failed to store user: %v", err)
	}

	fmt.Printf("Created user %s (id=%d, role=%s)\n", user.Email, user.ID, user.Role)
	fmt.Printf("API key (shown only once): %s\n", rawKey)
}

func printUsage() {
	fmt.Println("Usage: createuser <name> <email> <password> [admin]")
	fmt.Println("Creates a user, issues an API key and prints it once.")
}
