package storage

// Table names. They match the hosted schema column-for-column.
const (
	TableIngredients       = "ingredients"
	TableMenuItems         = "menu_items"
	TableRecipes           = "recipes"
	TableRecipeIngredients = "recipe_ingredients"
	TableOrders            = "orders"
	TableDailyRevenue      = "daily_revenue"
	TableExpenses          = "expenses"
	TableAlertRules        = "alert_rules"
	TableAlerts            = "alerts"
	TableAppSettings       = "app_settings"
	TableTasks             = "tasks"
	TableInventoryOutbox   = "inventory_outbox"
	TableSchemaMigrations  = "schema_migrations"
)

// Tables lists every table the application touches.
var Tables = []string{
	TableIngredients,
	TableMenuItems,
	TableRecipes,
	TableRecipeIngredients,
	TableOrders,
	TableDailyRevenue,
	TableExpenses,
	TableAlertRules,
	TableAlerts,
	TableAppSettings,
	TableTasks,
	TableInventoryOutbox,
	TableSchemaMigrations,
}
