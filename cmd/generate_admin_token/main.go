package main

import (
	"flag"
	"fmt"
	"log"

	"bus-backend/internal/config"
	"bus-backend/internal/utils"
)

func main() {
	role := flag.String("role", utils.RoleAdmin, "роль: user, conductor или admin")
	userID := flag.Uint("user", 0, "ID пользователя (для admin можно 0)")
	name := flag.String("name", "", "отображаемое имя")
	flag.Parse()

	cfg := config.Load()
	if cfg.JWTSecret == "" {
		log.Fatal("JWT_SECRET не задан")
	}
	utils.SetSecret(cfg.JWTSecret)

	var (
		token string
		err   error
	)
	switch *role {
	case utils.RoleAdmin:
		if *userID == 0 {
			token, err = utils.GenerateAdminJWT()
			break
		}
		token, err = utils.GenerateJWT(uint(*userID), *role, *name)
	case utils.RoleUser, utils.RoleConductor:
		if *userID == 0 {
			log.Fatalf("Для роли %s нужен -user", *role)
		}
		token, err = utils.GenerateJWT(uint(*userID), *role, *name)
	default:
		log.Fatalf("Неизвестная роль %q", *role)
	}
	if err != nil {
		log.Fatalf("Ошибка генерации токена: %v", err)
	}

	fmt.Printf("Generated %s token: %s\n", *role, token)
}
