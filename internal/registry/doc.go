// Package registry валидирует конфигурации коннекторов при регистрации.
//
// Для каждого вида транспорта (broker_in, broker_out, cdc_in,
// warehouse_out, http_get) зафиксирована схема конфигурации.
// Реестр проверяет payload структурно: обязательные поля, типы,
// неизвестные ключи. Данные он не двигает — это работа runtime.
package registry
