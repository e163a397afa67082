package models

import (
	"context"
	"errors"
	"time"

	"github.com/mmdatafocus/mes_backend/config"
	"github.com/mmdatafocus/mes_backend/utils"
	"gorm.io/gorm"
)

// Master data below is owned by external collaborators; this service only
// reads it for enrichment and existence checks.

type Material struct {
	ID        int       `gorm:"primary_key" json:"id"`
	PlantId   string    `gorm:"size:36;index;not null" json:"plant_id"`
	Code      string    `gorm:"size:50;index" json:"code"`
	Name      string    `gorm:"size:255" json:"name"`
	Unit      string    `gorm:"size:20" json:"unit"`
	IsActive  *bool     `gorm:"default:true" json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Product struct {
	ID        int       `gorm:"primary_key" json:"id"`
	PlantId   string    `gorm:"size:36;index;not null" json:"plant_id"`
	Sku       string    `gorm:"size:100;index" json:"sku"`
	Name      string    `gorm:"size:255" json:"name"`
	IsActive  *bool     `gorm:"default:true" json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Equipment struct {
	ID            int       `gorm:"primary_key" json:"id"`
	PlantId       string    `gorm:"size:36;index;not null" json:"plant_id"`
	Code          string    `gorm:"size:50" json:"code"`
	EquipmentType string    `gorm:"size:50;index" json:"equipment_type"`
	IsActive      *bool     `gorm:"default:true" json:"is_active"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type Operator struct {
	ID        int       `gorm:"primary_key" json:"id"`
	PlantId   string    `gorm:"size:36;index;not null" json:"plant_id"`
	Badge     string    `gorm:"size:50" json:"badge"`
	Name      string    `gorm:"size:255" json:"name"`
	IsActive  *bool     `gorm:"default:true" json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Location struct {
	ID        int       `gorm:"primary_key" json:"id"`
	PlantId   string    `gorm:"size:36;index;not null" json:"plant_id"`
	Code      string    `gorm:"size:50" json:"code"`
	Name      string    `gorm:"size:255" json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type OrderLine struct {
	ID         int       `gorm:"primary_key" json:"id"`
	PlantId    string    `gorm:"size:36;index;not null" json:"plant_id"`
	OrderRef   string    `gorm:"size:100" json:"order_ref"`
	LineNumber int       `json:"line_number"`
	ProductId  int       `gorm:"index" json:"product_id"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func GetMaterial(tx *gorm.DB, plantId string, materialId int) (*Material, error) {
	var material Material
	err := tx.Where("plant_id = ? AND id = ?", plantId, materialId).First(&material).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.ErrorRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return &material, nil
}

func GetProduct(tx *gorm.DB, plantId string, sku string) (*Product, error) {
	var product Product
	err := tx.Where("plant_id = ? AND sku = ?", plantId, sku).First(&product).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.ErrorRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return &product, nil
}

func EquipmentExists(ctx context.Context, plantId string, equipmentId int) (bool, error) {
	db := config.GetDB()
	var count int64
	err := db.WithContext(ctx).Model(&Equipment{}).
		Where("plant_id = ? AND id = ? AND is_active = 1", plantId, equipmentId).
		Count(&count).Error
	return count > 0, err
}

func OperatorExists(ctx context.Context, plantId string, operatorId int) (bool, error) {
	db := config.GetDB()
	var count int64
	err := db.WithContext(ctx).Model(&Operator{}).
		Where("plant_id = ? AND id = ? AND is_active = 1", plantId, operatorId).
		Count(&count).Error
	return count > 0, err
}

func GetOrderLine(tx *gorm.DB, plantId string, orderLineId int) (*OrderLine, error) {
	var line OrderLine
	err := tx.Where("plant_id = ? AND id = ?", plantId, orderLineId).First(&line).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.ErrorRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return &line, nil
}

// GetEquipmentType fetches the equipment type code used for policy matching.
func GetEquipmentType(tx *gorm.DB, plantId string, equipmentId int) (string, error) {
	var equipment Equipment
	err := tx.Where("plant_id = ? AND id = ?", plantId, equipmentId).First(&equipment).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", utils.ErrorRecordNotFound
	}
	if err != nil {
		return "", err
	}
	return equipment.EquipmentType, nil
}
