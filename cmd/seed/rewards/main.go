package main

import (
	"log"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"boutique-loyalty/pkg/config"
	"boutique-loyalty/pkg/db"
	"boutique-loyalty/pkg/logger"
	"boutique-loyalty/services/reward"
)

var defaultRewards = []reward.Reward{
	{
		Title:       "5€ de réduction",
		Description: "Économisez 5€ sur votre prochaine commande (minimum 30€)",
		PointsCost:  500,
		Type:        reward.DiscountFixed,
		Value:       500,
		ValidDays:   30,
	},
	{
		Title:       "10% de réduction",
		Description: "10% de réduction sur votre prochaine commande",
		PointsCost:  750,
		Type:        reward.DiscountPercentage,
		Value:       10,
		ValidDays:   30,
	},
	{
		Title:       "Livraison gratuite",
		Description: "Livraison offerte sur votre prochaine commande",
		PointsCost:  300,
		Type:        reward.FreeShipping,
		Value:       0,
		ValidDays:   30,
	},
	{
		Title:       "15% de réduction",
		Description: "15% de réduction sur votre prochaine commande",
		PointsCost:  1200,
		Type:        reward.DiscountPercentage,
		Value:       15,
		ValidDays:   30,
	},
	{
		Title:       "10€ de réduction",
		Description: "Économisez 10€ sur votre prochaine commande (minimum 50€)",
		PointsCost:  1000,
		Type:        reward.DiscountFixed,
		Value:       1000,
		ValidDays:   30,
	},
	{
		Title:       "20% de réduction",
		Description: "20% de réduction sur votre prochaine commande",
		PointsCost:  2000,
		Type:        reward.DiscountPercentage,
		Value:       20,
		ValidDays:   45,
	},
	{
		Title:       "20€ de réduction",
		Description: "Économisez 20€ sur votre prochaine commande (minimum 100€)",
		PointsCost:  2000,
		Type:        reward.DiscountFixed,
		Value:       2000,
		ValidDays:   45,
	},
	{
		Title:       "25% de réduction VIP",
		Description: "25% de réduction exclusive pour nos membres VIP",
		PointsCost:  3000,
		Type:        reward.DiscountPercentage,
		Value:       25,
		ValidDays:   60,
	},
}

func seedRewards(conn *gorm.DB, node *snowflake.Node, shutdowner fx.Shutdowner) error {
	if err := conn.AutoMigrate(&reward.Reward{}); err != nil {
		return err
	}

	for _, r := range defaultRewards {
		r.ID = node.Generate().String()
		r.IsActive = true

		var existing reward.Reward
		res := conn.Where("title = ?", r.Title).Attrs(r).FirstOrCreate(&existing)
		if res.Error != nil {
			return res.Error
		}

		if res.RowsAffected == 0 {
			zap.L().Info("reward already seeded", zap.String("title", r.Title))
			continue
		}
		zap.L().Info("reward seeded", zap.String("title", r.Title), zap.Int64("points_cost", r.PointsCost))
	}

	return shutdowner.Shutdown()
}

func main() {
	opts := []fx.Option{
		config.Module,
		logger.Module,
		db.Module,
		fx.Provide(provideSnowflakeNode),
		fx.Invoke(seedRewards),
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	app := fx.New(opts...)

	app.Run()
}

func provideSnowflakeNode() (*snowflake.Node, error) {
	return snowflake.NewNode(1)
}
